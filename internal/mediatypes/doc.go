// Package mediatypes classifies files by extension into the media types the
// import pipeline understands (image, animation, video) and maps extensions
// to MIME types.
package mediatypes
