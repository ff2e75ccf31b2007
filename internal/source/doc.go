// Package source defines the frame source contract consumed by stream workers
// and the openers that produce sources from connection descriptors.
//
// A source is an opaque sequential frame producer. Workers only ever use three
// operations on it:
//
//	src, err := opener.Open("rtsp://10.0.0.5/stream1", source.Options{Width: 640, Height: 480})
//	for src.IsOpen() {
//	    frame, err := src.ReadFrame()
//	    ...
//	}
//	src.Close()
//
// Descriptors are dispatched by URL scheme through a Mux:
//   - test://pattern  synthetic frames (frames, width, height, interval, fail_after, static, fail_open)
//   - dir:///path     images written into a directory (fsnotify)
//   - gst+rtsp://...  GStreamer appsink pipeline (only with -tags gstreamer)
//   - anything else   decoded by an ffmpeg child process to raw RGB frames
//
// Open failures are reported as *OpenError and read failures as *ReadError.
package source
