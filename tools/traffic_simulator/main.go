// traffic_simulator drives GET /ad with a fixed population of viewers and
// follows a share of the returned click URLs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/observability"
)

var (
	server          string
	users           int
	totalReq        int
	conc            int
	duration        time.Duration
	rate            float64
	clickRate       float64
	anonRate        float64
	stats           bool
	flush           bool
	redisAddr       string
	debug           bool
	label           string
	surgeInterval   time.Duration
	surgeDuration   time.Duration
	surgeMultiplier float64
	jitter          float64
)

var logger *zap.Logger

var httpClient *http.Client

// clickClient does not follow redirects so the advertiser site is never hit.
var clickClient *http.Client

const statsInterval = 5 * time.Second

var (
	countSent     uint64
	countSuccess  uint64
	countNoAd     uint64
	countErrors   uint64
	countClicks   uint64
	countRepeats  uint64
	servedByAdMu  sync.Mutex
	servedByAdMap = map[string]uint64{}
)

type adResponse struct {
	ID       string `json:"id"`
	ClickURL string `json:"click_url"`
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "ad server base URL")
	flag.IntVar(&users, "users", 100, "number of unique viewers")
	flag.IntVar(&totalReq, "requests", 1000, "total requests to send")
	flag.IntVar(&conc, "concurrency", 20, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "requests per second (0 for unlimited)")
	flag.Float64Var(&clickRate, "click-rate", 0.05, "probability of a click per impression")
	flag.Float64Var(&anonRate, "anon-rate", 0.0, "fraction of requests sent without a viewer key")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "delete seen records from redis before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.DurationVar(&surgeInterval, "surge-interval", 0, "interval between traffic surges (0 to disable)")
	flag.DurationVar(&surgeDuration, "surge-duration", 0, "duration of each surge window")
	flag.Float64Var(&surgeMultiplier, "surge-multiplier", 2.0, "requests multiplier during surge period")
	flag.Float64Var(&jitter, "jitter", 0.0, "random jitter factor for request spacing")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	transport := func() *http.Transport {
		return &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       50,
			IdleConnTimeout:       90 * time.Second,
		}
	}
	httpClient = &http.Client{Timeout: 30 * time.Second, Transport: transport()}
	clickClient = &http.Client{
		Timeout:   10 * time.Second,
		Transport: transport(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	if flush {
		flushSeen()
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rmu sync.Mutex
	randFloat := func() float64 {
		rmu.Lock()
		defer rmu.Unlock()
		return r.Float64()
	}
	randIntn := func(n int) int {
		rmu.Lock()
		defer rmu.Unlock()
		return r.Intn(n)
	}

	// lastAd remembers the previous ad per viewer so back-to-back repeats
	// can be counted.
	var lastAd sync.Map

	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var baseInterval time.Duration
	if rate > 0 {
		baseInterval = time.Duration(float64(time.Second) / rate)
	} else if duration > 0 && totalReq > 0 {
		baseInterval = duration / time.Duration(totalReq)
	}

	start := time.Now()
	next := start

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					printStats()
					return
				}
			}
		}()
	}
	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if baseInterval > 0 {
			effective := baseInterval
			if surgeInterval > 0 && surgeDuration > 0 && surgeMultiplier > 0 {
				if time.Since(start)%surgeInterval < surgeDuration {
					effective = time.Duration(float64(effective) / surgeMultiplier)
				}
			}
			if jitter > 0 {
				jf := 1 + (randFloat()*2-1)*jitter
				if jf < 0.1 {
					jf = 0.1
				}
				effective = time.Duration(float64(effective) * jf)
			}
			now := time.Now()
			if now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(effective)
		}

		viewer := fmt.Sprintf("viewer-%d", randIntn(users))
		if randFloat() < anonRate {
			viewer = ""
		}
		click := randFloat() < clickRate

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			atomic.AddUint64(&countSent, 1)

			ad, ok := requestAd(viewer)
			if !ok {
				return
			}
			atomic.AddUint64(&countSuccess, 1)
			servedByAdMu.Lock()
			servedByAdMap[ad.ID]++
			servedByAdMu.Unlock()
			if viewer != "" {
				if prev, loaded := lastAd.Swap(viewer, ad.ID); loaded && prev.(string) == ad.ID {
					atomic.AddUint64(&countRepeats, 1)
				}
			}

			if click && ad.ClickURL != "" {
				followClick(ad.ClickURL)
			}
			logger.Debug("served", zap.String("viewer_key", viewer), zap.String("ad_id", ad.ID))
		}()
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
	printDistribution()
}

func requestAd(viewer string) (adResponse, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	u := strings.TrimRight(server, "/") + "/ad"
	if viewer != "" {
		u += "?viewer=" + url.QueryEscape(viewer)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("request build error", zap.Error(err))
		return adResponse{}, false
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("ad request error", zap.Error(err))
		return adResponse{}, false
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("read body error", zap.Error(err))
		return adResponse{}, false
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		atomic.AddUint64(&countNoAd, 1)
		return adResponse{}, false
	default:
		atomic.AddUint64(&countErrors, 1)
		logger.Error("unexpected status", zap.Int("status", resp.StatusCode), zap.String("body", strings.TrimSpace(string(body))))
		return adResponse{}, false
	}

	var ad adResponse
	if err := json.Unmarshal(body, &ad); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("decode error", zap.Error(err), zap.String("body", strings.TrimSpace(string(body))))
		return adResponse{}, false
	}
	return ad, true
}

func followClick(clickURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+clickURL, nil)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("click request build error", zap.Error(err))
		return
	}
	resp, err := clickClient.Do(req)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("click get error", zap.Error(err))
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("click rejected", zap.Int("status", resp.StatusCode))
		return
	}
	atomic.AddUint64(&countClicks, 1)
}

// flushSeen removes all seen records so every viewer starts fresh. Campaign
// counters are left alone.
func flushSeen() {
	addr := redisAddr
	if addr == "" {
		cfg, err := config.Load()
		if err != nil {
			logger.Fatal("load config", zap.Error(err))
		}
		addr = cfg.RedisAddr
	}
	store, err := db.InitRedis(addr)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer store.Close()

	// Pruning everything older than the far future empties every set.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := store.PruneSeen(ctx, time.Now().Add(100*365*24*time.Hour))
	if err != nil {
		logger.Fatal("flush seen records", zap.Error(err))
	}
	logger.Info("seen records flushed", zap.String("addr", addr), zap.Int64("removed", removed))
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	succ := atomic.LoadUint64(&countSuccess)
	noAd := atomic.LoadUint64(&countNoAd)
	errs := atomic.LoadUint64(&countErrors)
	clk := atomic.LoadUint64(&countClicks)
	rep := atomic.LoadUint64(&countRepeats)
	var ctr float64
	if succ > 0 {
		ctr = float64(clk) / float64(succ)
	}
	logger.Info("stats", zap.String("run", label), zap.Uint64("sent", sent), zap.Uint64("success", succ),
		zap.Uint64("no_ad", noAd), zap.Uint64("errors", errs), zap.Uint64("clicks", clk),
		zap.Uint64("repeats", rep), zap.Float64("ctr", ctr))
}

func printDistribution() {
	servedByAdMu.Lock()
	defer servedByAdMu.Unlock()
	fields := make([]zap.Field, 0, len(servedByAdMap)+1)
	fields = append(fields, zap.String("run", label))
	for id, n := range servedByAdMap {
		fields = append(fields, zap.Uint64(id, n))
	}
	logger.Info("impressions by campaign", fields...)
}
