// Package record implements the manual push-to-talk recorder used when
// automatic speech segmentation is unavailable. It accumulates raw capture
// frames between Start and Stop and hands the buffered utterance to the
// caller.
package record
