package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the compiler.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with the compile and render paths.
type Collector interface {
	IncCompilation(channel string)
	IncRenderCacheHit()
	IncRenderCacheMiss()
	SetRenderCacheEntries(n int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncCompilation(string)     {}
func (noopCollector) IncRenderCacheHit()        {}
func (noopCollector) IncRenderCacheMiss()       {}
func (noopCollector) SetRenderCacheEntries(int) {}

// PrometheusCollector exposes compiler counters via Prometheus.
type PrometheusCollector struct {
	compilations *prometheus.CounterVec
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	cacheEntries prometheus.Gauge
}

var (
	compilationCounter     *prometheus.CounterVec
	compilationCounterLock sync.Mutex
	cacheHitCounter        prometheus.Counter
	cacheHitCounterLock    sync.Mutex
	cacheMissCounter       prometheus.Counter
	cacheMissCounterLock   sync.Mutex
	cacheEntriesGauge      prometheus.Gauge
	cacheEntriesGaugeLock  sync.Mutex
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	compilationCounterLock.Lock()
	if compilationCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsec_channel_compilations_total",
			Help: "Number of instruction stream compilations per output channel.",
		}, []string{"channel"})
		if err := reg.Register(counter); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
					compilationCounter = existing
				} else {
					compilationCounterLock.Unlock()
					return nil, err
				}
			} else {
				compilationCounterLock.Unlock()
				return nil, err
			}
		} else {
			compilationCounter = counter
		}
	}
	compilationCounterLock.Unlock()

	cacheHitCounterLock.Lock()
	if cacheHitCounter == nil {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsec_render_cache_hits_total",
			Help: "Number of waveform renders served from the cache.",
		})
		if err := reg.Register(counter); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
					cacheHitCounter = existing
				} else {
					cacheHitCounterLock.Unlock()
					return nil, err
				}
			} else {
				cacheHitCounterLock.Unlock()
				return nil, err
			}
		} else {
			cacheHitCounter = counter
		}
	}
	cacheHitCounterLock.Unlock()

	cacheMissCounterLock.Lock()
	if cacheMissCounter == nil {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsec_render_cache_misses_total",
			Help: "Number of waveform renders that required a full render.",
		})
		if err := reg.Register(counter); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
					cacheMissCounter = existing
				} else {
					cacheMissCounterLock.Unlock()
					return nil, err
				}
			} else {
				cacheMissCounterLock.Unlock()
				return nil, err
			}
		} else {
			cacheMissCounter = counter
		}
	}
	cacheMissCounterLock.Unlock()

	cacheEntriesGaugeLock.Lock()
	if cacheEntriesGauge == nil {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulsec_render_cache_entries",
			Help: "Number of waveforms currently held in the render cache.",
		})
		if err := reg.Register(gauge); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(prometheus.Gauge); ok {
					cacheEntriesGauge = existing
				} else {
					cacheEntriesGaugeLock.Unlock()
					return nil, err
				}
			} else {
				cacheEntriesGaugeLock.Unlock()
				return nil, err
			}
		} else {
			cacheEntriesGauge = gauge
		}
	}
	cacheEntriesGaugeLock.Unlock()

	return &PrometheusCollector{
		compilations: compilationCounter,
		cacheHits:    cacheHitCounter,
		cacheMisses:  cacheMissCounter,
		cacheEntries: cacheEntriesGauge,
	}, nil
}

// IncCompilation increments the compilation counter for the channel.
func (p *PrometheusCollector) IncCompilation(channel string) {
	if p == nil || p.compilations == nil {
		return
	}
	p.compilations.WithLabelValues(channel).Inc()
}

// IncRenderCacheHit counts a waveform served from the render cache.
func (p *PrometheusCollector) IncRenderCacheHit() {
	if p == nil || p.cacheHits == nil {
		return
	}
	p.cacheHits.Inc()
}

// IncRenderCacheMiss counts a waveform that required a full render.
func (p *PrometheusCollector) IncRenderCacheMiss() {
	if p == nil || p.cacheMisses == nil {
		return
	}
	p.cacheMisses.Inc()
}

// SetRenderCacheEntries updates the gauge tracking cached waveforms.
func (p *PrometheusCollector) SetRenderCacheEntries(n int) {
	if p == nil || p.cacheEntries == nil {
		return
	}
	p.cacheEntries.Set(float64(n))
}
