//go:build gstreamer

package source

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var gstInit sync.Once

func init() {
	registerDefault("gst+rtsp", OpenerFunc(OpenGStreamer))
}

// GStreamer reads RGB frames from an rtspsrc pipeline through an appsink
type GStreamer struct {
	descriptor string
	width      int
	height     int

	pipeline *gst.Pipeline
	sink     *app.Sink

	seq    uint64
	closed atomic.Bool
	once   sync.Once
}

// OpenGStreamer opens a gst+rtsp:// descriptor
func OpenGStreamer(descriptor string, opts Options) (Source, error) {
	opts = opts.withDefaults()
	gstInit.Do(func() { gst.Init(nil) })

	location := strings.TrimPrefix(descriptor, "gst+")
	launch := fmt.Sprintf(
		"rtspsrc location=%s protocols=tcp latency=200 ! decodebin ! videoconvert ! videoscale ! "+
			"video/x-raw,format=RGB,width=%d,height=%d ! appsink name=sink sync=false max-buffers=1 drop=true",
		location, opts.Width, opts.Height,
	)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("failed to create pipeline: %w", err)}
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("failed to find appsink: %w", err)}
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("failed to start pipeline: %w", err)}
	}

	return &GStreamer{
		descriptor: Redact(descriptor),
		width:      opts.Width,
		height:     opts.Height,
		pipeline:   pipeline,
		sink:       app.SinkFromElement(elem),
	}, nil
}

// IsOpen reports whether the pipeline has not reached end of stream
func (g *GStreamer) IsOpen() bool {
	return !g.closed.Load() && !g.sink.IsEOS()
}

// ReadFrame pulls the next sample from the appsink
func (g *GStreamer) ReadFrame() (Frame, error) {
	sample := g.sink.PullSample()
	if sample == nil {
		g.closed.Store(true)
		return Frame{}, &ReadError{Seq: g.seq, Err: ErrClosed}
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return Frame{}, &ReadError{Seq: g.seq, Err: ErrNoData}
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return Frame{}, &ReadError{Seq: g.seq, Err: ErrNoData}
	}
	img := rgbImage(g.width, g.height, data)
	buffer.Unmap()

	frame := Frame{
		Seq:       g.seq,
		Timestamp: time.Now(),
		Image:     img,
		Source:    g.descriptor,
	}
	g.seq++
	return frame, nil
}

// Close stops the pipeline
func (g *GStreamer) Close() error {
	var err error
	g.once.Do(func() {
		g.closed.Store(true)
		err = g.pipeline.SetState(gst.StateNull)
	})
	return err
}
