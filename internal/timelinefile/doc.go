// Package timelinefile loads a timeline document from disk and keeps the
// store in sync with it.
//
// A document carries the timeline objects and the layer mappings:
//
//	timeline:
//	  - id: opener
//	    layer: PGM
//	    enable: [{start: now, duration: 10000}]
//	    content: {deviceType: abstract, file: opener.mov}
//	mappings:
//	  PGM: {device_type: abstract, device_id: vision}
//
// Files ending in .json are decoded as JSON, everything else as YAML.
//
// The Watcher re-imports the document whenever it changes on disk. Bursts
// of writes are coalesced with a debounce delay, and the parent directory
// is watched so editors that replace the file by rename are picked up.
package timelinefile
