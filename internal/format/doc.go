// Package format renders log calls as chat-sized records.
//
// It owns everything the dispatcher must not know about: severity icons and
// colors, the "**[Level]**" header layout, error-to-embed rendering, and the
// conversion of texts that exceed a single message into a file attachment.
package format
