package httpapi

import (
	"github.com/waltagan/scraper-api/internal/batch"
	"github.com/waltagan/scraper-api/internal/metrics"
)

// processingTimeMS mirrors spec.md §6's `processing_time_ms` object.
type processingTimeMS struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P50 float64 `json:"p50"`
	P60 float64 `json:"p60"`
	P70 float64 `json:"p70"`
	P80 float64 `json:"p80"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type subpagePipeline struct {
	LinksInHTMLTotal      int64            `json:"links_in_html_total"`
	LinksAfterFilter      int64            `json:"links_after_filter"`
	LinksSelected         int64            `json:"links_selected"`
	LinksPerCompanyAvg    float64          `json:"links_per_company_avg"`
	SelectedPerCompanyAvg float64          `json:"selected_per_company_avg"`
	ZeroLinksCompanies    int64            `json:"zero_links_companies"`
	ZeroLinksPct          float64          `json:"zero_links_pct"`
	MainPageFailures      int64            `json:"main_page_failures"`
	MainPageFailReasons   map[string]int64 `json:"main_page_fail_reasons"`
	SubpagesAttempted     int64            `json:"subpages_attempted"`
	SubpagesOK            int64            `json:"subpages_ok"`
	SubpagesFailed        int64            `json:"subpages_failed"`
	SubpageSuccessRatePct float64          `json:"subpage_success_rate_pct"`
	SubpageErrorBreakdown map[string]int64 `json:"subpage_error_breakdown"`
}

type infrastructure struct {
	ProxyPool      any `json:"proxy_pool"`
	Concurrency    any `json:"concurrency"`
	RateLimiter    any `json:"rate_limiter"`
	CircuitBreaker any `json:"circuit_breaker"`
}

type lastErrorDTO struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Error string `json:"error"`
	Time  string `json:"time"`
}

type instanceDTO struct {
	ID               string  `json:"id"`
	Status           string  `json:"status"`
	Processed        int64   `json:"processed"`
	Success          int64   `json:"success"`
	Errors           int64   `json:"errors"`
	ThroughputPerMin float64 `json:"throughput_per_min"`
}

type statusDTO struct {
	BatchID          string           `json:"batch_id"`
	Status           string           `json:"status"`
	Total            int64            `json:"total"`
	Processed        int64            `json:"processed"`
	SuccessCount     int64            `json:"success_count"`
	ErrorCount       int64            `json:"error_count"`
	SuccessRatePct   float64          `json:"success_rate_pct"`
	Remaining        int64            `json:"remaining"`
	InProgress       int64            `json:"in_progress"`
	PeakInProgress   int64            `json:"peak_in_progress"`
	ThroughputPerMin float64          `json:"throughput_per_min"`
	ElapsedSeconds   float64          `json:"elapsed_seconds"`
	ProcessingTimeMS processingTimeMS `json:"processing_time_ms"`
	ErrorBreakdown   map[string]int64 `json:"error_breakdown"`

	PagesPerCompanyAvg float64 `json:"pages_per_company_avg"`
	TotalRetries       int64   `json:"total_retries"`

	SubpagePipeline subpagePipeline `json:"subpage_pipeline"`
	Infrastructure  infrastructure  `json:"infrastructure"`

	LastErrors []lastErrorDTO `json:"last_errors"`
	Instances  []instanceDTO  `json:"instances"`
}

func statusResponse(batchID, status string, snap metrics.Snapshot, infra batch.InfraSnapshot, instances []instanceDTO) statusDTO {
	lastErrors := make([]lastErrorDTO, 0, len(snap.LastErrors))
	for _, e := range snap.LastErrors {
		lastErrors = append(lastErrors, lastErrorDTO{
			ID: e.ID, URL: e.URL, Error: e.Error, Time: e.Time.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	return statusDTO{
		BatchID:          batchID,
		Status:           status,
		Total:            snap.Total,
		Processed:        snap.Processed,
		SuccessCount:     snap.SuccessCount,
		ErrorCount:       snap.ErrorCount,
		SuccessRatePct:   snap.SuccessRatePct,
		Remaining:        snap.Remaining,
		InProgress:       snap.InProgress,
		PeakInProgress:   snap.PeakInProgress,
		ThroughputPerMin: snap.ThroughputPerMin,
		ElapsedSeconds:   snap.ElapsedSeconds,
		ProcessingTimeMS: processingTimeMS{
			Avg: snap.ProcessingTimeMS.Avg, Min: snap.ProcessingTimeMS.Min, Max: snap.ProcessingTimeMS.Max,
			P50: snap.ProcessingTimeMS.P50, P60: snap.ProcessingTimeMS.P60, P70: snap.ProcessingTimeMS.P70,
			P80: snap.ProcessingTimeMS.P80, P90: snap.ProcessingTimeMS.P90, P95: snap.ProcessingTimeMS.P95,
			P99: snap.ProcessingTimeMS.P99,
		},
		ErrorBreakdown:     snap.ErrorBreakdown,
		PagesPerCompanyAvg: snap.PagesPerCompanyAvg,
		TotalRetries:       snap.TotalRetries,
		SubpagePipeline: subpagePipeline{
			LinksInHTMLTotal:      snap.LinksInHTMLTotal,
			LinksAfterFilter:      snap.LinksAfterFilter,
			LinksSelected:         snap.LinksSelected,
			LinksPerCompanyAvg:    snap.LinksPerCompanyAvg,
			SelectedPerCompanyAvg: snap.SelectedPerCompanyAvg,
			ZeroLinksCompanies:    snap.ZeroLinksCompanies,
			ZeroLinksPct:          snap.ZeroLinksPct,
			MainPageFailures:      snap.MainPageFailures,
			MainPageFailReasons:   snap.MainPageFailReasons,
			SubpagesAttempted:     snap.SubpagesAttempted,
			SubpagesOK:            snap.SubpagesOK,
			SubpagesFailed:        snap.SubpagesFailed,
			SubpageSuccessRatePct: snap.SubpageSuccessRatePct,
			SubpageErrorBreakdown: snap.SubpageErrorBreakdown,
		},
		Infrastructure: infrastructure{
			ProxyPool:      infra.ProxyPool,
			Concurrency:    infra.Concurrency,
			RateLimiter:    infra.RateLimiter,
			CircuitBreaker: infra.CircuitBreaker,
		},
		LastErrors: lastErrors,
		Instances:  instances,
	}
}
