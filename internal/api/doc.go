// Package api exposes the SpriteForge REST interface: synchronous sprite and
// image generation, asynchronous sprite jobs, usage and history queries, the
// motion catalog and the cached assets themselves.
package api
