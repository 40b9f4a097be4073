// Package permission models microphone access state and the platform
// prompt flow. The session refuses to enter listening until the provider
// reports a granted status.
package permission
