package usecases

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"gorm.io/gorm"
	"unicity-proxy.backend/internal/routing"
)

const probeTimeout = 2 * time.Second

// HealthReport is the readiness view: database connectivity plus per-shard
// aggregator reachability.
type HealthReport struct {
	Status      string            `json:"status"`
	Database    string            `json:"database"`
	Aggregators map[string]string `json:"aggregators"`
}

// Healthy reports whether every dependency answered.
func (r *HealthReport) Healthy() bool {
	return r.Status == "healthy"
}

// HealthUsecase probes the database and every distinct aggregator URL of the
// active routing table.
type HealthUsecase struct {
	db     *gorm.DB
	router *routing.Holder
	client *http.Client
}

func NewHealthUsecase(db *gorm.DB, router *routing.Holder, client *http.Client) *HealthUsecase {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &HealthUsecase{db: db, router: router, client: client}
}

// Check runs all probes concurrently. Any unreachable dependency, or a
// missing routing table, degrades the overall status.
func (uc *HealthUsecase) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:      "healthy",
		Database:    "ok",
		Aggregators: make(map[string]string),
	}

	if err := uc.pingDatabase(ctx); err != nil {
		report.Database = "unreachable: " + err.Error()
		report.Status = "unhealthy"
	}

	table := uc.router.Load()
	if table == nil {
		report.Status = "unhealthy"
		return report
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, url := range table.URLs() {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			state := "ok"
			if err := uc.probe(ctx, url); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					state = "timeout"
				} else {
					state = "unreachable: " + err.Error()
				}
			}
			mu.Lock()
			report.Aggregators[url] = state
			if state != "ok" {
				report.Status = "unhealthy"
			}
			mu.Unlock()
		}(url)
	}
	wg.Wait()
	return report
}

func (uc *HealthUsecase) pingDatabase(ctx context.Context) error {
	sqlDB, err := uc.db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

func (uc *HealthUsecase) probe(ctx context.Context, url string) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := uc.client.Do(req)
	if err != nil {
		return err
	}
	// Any HTTP answer counts as reachable; shards may 404 on their root.
	resp.Body.Close()
	return nil
}
