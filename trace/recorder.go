package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/internal/metrics"
)

var (
	// ErrRecorderExists is returned by Init when the trace file it would
	// create is already present.
	ErrRecorderExists = errors.New("trace: recorder file already exists")
	// ErrNotInitialized is returned by AddEvent before Init.
	ErrNotInitialized = errors.New("trace: recorder not initialized")
)

// Placeholders used when device properties are unavailable.
const (
	UnknownProduct = "unknown_product"
	UnknownDevice  = "unknown_device"
	UnknownBuild   = "unknown_build"
)

// DeviceInfo names the device a trace was captured on.
type DeviceInfo struct {
	Product  string `yaml:"product"`
	DeviceID string `yaml:"device_id"`
	Build    string `yaml:"build"`
}

func (d DeviceInfo) orPlaceholders() DeviceInfo {
	if d.Product == "" {
		d.Product = UnknownProduct
	}
	if d.DeviceID == "" {
		d.DeviceID = UnknownDevice
	}
	if d.Build == "" {
		d.Build = UnknownBuild
	}
	return d
}

// FileName returns the trace path for prefix, device and creation time.
func FileName(prefix string, d DeviceInfo, at time.Time) string {
	d = d.orPlaceholders()
	return fmt.Sprintf("%s_%s_%s_%s_%d.trace", prefix, d.Product, d.DeviceID, d.Build, at.UnixNano())
}

var (
	recordersMu sync.Mutex
	recorders   = map[string]*Recorder{}
)

// RecorderFor returns the process-wide recorder for prefix, creating it on
// first use.
func RecorderFor(prefix string) *Recorder {
	recordersMu.Lock()
	defer recordersMu.Unlock()
	r, ok := recorders[prefix]
	if !ok {
		r = &Recorder{prefix: prefix, now: time.Now}
		recorders[prefix] = r
	}
	return r
}

// Recorder appends events to one trace file. It is safe for concurrent use.
type Recorder struct {
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	f       *os.File
	bw      *bufio.Writer
	w       *Writer
	path    string
	base    time.Time
	metrics *metrics.Metrics
}

// SetMetrics sets the sink counting written records.
func (r *Recorder) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// Init creates the trace file. Calling it again on an initialized recorder
// does nothing.
func (r *Recorder) Init(info DeviceInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f != nil {
		return nil
	}
	base := r.now()
	path := FileName(r.prefix, info, base)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrRecorderExists, path)
		}
		return fmt.Errorf("create trace file: %w", err)
	}
	r.f = f
	r.bw = bufio.NewWriter(f)
	r.w = NewWriter(r.bw)
	r.path = path
	r.base = base
	return nil
}

// Path returns the trace file path, or "" before Init.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// AddEvent appends one record and flushes it to the file.
func (r *Recorder) AddEvent(kind EventKind, pkg, version, iface string, fn callspec.FuncSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return ErrNotInitialized
	}
	rec := &Record{
		Event:     kind,
		Timestamp: r.base.UnixNano() + int64(time.Since(r.base)),
		Package:   pkg,
		Version:   version,
		Interface: iface,
		Func:      fn,
	}
	if err := r.w.Write(rec); err != nil {
		return err
	}
	if err := r.bw.Flush(); err != nil {
		return err
	}
	r.metrics.Record()
	return nil
}

// Close flushes and closes the file. A later Init starts a new file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.bw.Flush()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	r.f, r.bw, r.w, r.path = nil, nil, nil, ""
	return err
}
