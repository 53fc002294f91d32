// Package mcp binds the security boundary to the Model Context
// Protocol. It wraps the official SDK server, assembles the middleware
// chain in its fixed order, and registers the guarded file and URL
// tools so that every invocation flows through policy enforcement
// before any resource is touched.
//
// The tool surface:
//
//	read_file    read a whitelisted file
//	write_file   atomically write a whitelisted file
//	list_files   list a whitelisted directory
//	delete_file  delete a whitelisted file
//	file_info    stat a whitelisted path
//	fetch_url    fetch a vetted URL
//	fetch_json   fetch a vetted URL and decode JSON
package mcp
