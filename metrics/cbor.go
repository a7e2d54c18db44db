package metrics

import (
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Metric identifies a time-series metric in the CBOR stream.
type Metric uint8

const (
	// MetricNrTasks is the number of pending insertion tasks.
	MetricNrTasks Metric = 0
	// MetricNrPoints is the number of points queued in pending tasks.
	MetricNrPoints Metric = 1
)

// Sample is one record of the CBOR metrics stream. Field names are kept to
// single letters to keep long recordings small.
type Sample struct {
	T int64 `cbor:"t"` // unix milliseconds
	M uint8 `cbor:"m"`
	V int64 `cbor:"v"`
}

// CBORCollector records backlog samples as a stream of CBOR records,
// suitable for plotting index load over the course of an ingestion run.
// Samples are handed to a writer goroutine through a bounded channel;
// when the recorder cannot keep up, samples are dropped rather than
// stalling the insertion pipeline.
type CBORCollector struct {
	NoopCollector

	ch        chan Sample
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
	err       error
}

// NewCBORCollector starts a collector writing to w. Close stops the
// writer goroutine and reports any write error encountered.
func NewCBORCollector(w io.Writer) *CBORCollector {
	c := &CBORCollector{
		ch:   make(chan Sample, 1024),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go c.run(w)
	return c
}

func (c *CBORCollector) run(w io.Writer) {
	defer close(c.done)
	enc := cbor.NewEncoder(w)
	write := func(s Sample) bool {
		if err := enc.Encode(s); err != nil {
			c.writeMu.Lock()
			if c.err == nil {
				c.err = err
			}
			c.writeMu.Unlock()
			return false
		}
		return true
	}
	for {
		select {
		case s := <-c.ch:
			if !write(s) {
				return
			}
		case <-c.stop:
			// Drain what was buffered before Close.
			for {
				select {
				case s := <-c.ch:
					if !write(s) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// RecordBacklog implements Collector.
func (c *CBORCollector) RecordBacklog(tasks, points int) {
	now := time.Now().UnixMilli()
	c.offer(Sample{T: now, M: uint8(MetricNrTasks), V: int64(tasks)})
	c.offer(Sample{T: now, M: uint8(MetricNrPoints), V: int64(points)})
}

// offer never closes or blocks on the channel: producers may still be
// sampling (the engine's generation ticker, a late flush) when Close runs,
// so samples after Close are silently discarded instead of panicking.
func (c *CBORCollector) offer(s Sample) {
	select {
	case <-c.stop:
		return
	default:
	}
	select {
	case c.ch <- s:
	default:
	}
}

// Close stops the recorder and returns the first write error, if any.
// Close is idempotent and safe to call while producers are still
// recording; their samples are dropped from then on.
func (c *CBORCollector) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.err
}

// ReadSamples decodes a recorded CBOR metrics stream.
func ReadSamples(r io.Reader) ([]Sample, error) {
	dec := cbor.NewDecoder(r)
	var out []Sample
	for {
		var s Sample
		if err := dec.Decode(&s); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, err
		}
		out = append(out, s)
	}
}
