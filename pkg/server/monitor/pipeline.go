// Package monitor tracks background task health for the health endpoint.
package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/tinygarden/pkg/config"
)

// PipelineMonitor tracks aggregation pipeline health and failures.
type PipelineMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// RecordSuccess records a successful pipeline run.
func (pm *PipelineMonitor) RecordSuccess() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.lastSuccess = time.Now()
	pm.lastAttempt = time.Now()
	pm.consecutiveErrors = 0
	pm.lastError = ""
}

// RecordFailure records a failed pipeline run.
func (pm *PipelineMonitor) RecordFailure(err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.lastAttempt = time.Now()
	pm.consecutiveErrors++
	if err != nil {
		pm.lastError = err.Error()
	}
}

// IsHealthy returns true if the pipeline is running properly. Unhealthy
// conditions: never succeeded, no success inside two scheduling intervals,
// or more than 3 consecutive failures.
func (pm *PipelineMonitor) IsHealthy() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.isHealthy()
}

func (pm *PipelineMonitor) isHealthy() bool {
	if pm.lastSuccess.IsZero() {
		return false
	}
	if time.Since(pm.lastSuccess) > 2*config.PipelineInterval {
		return false
	}
	if pm.consecutiveErrors > 3 {
		return false
	}
	return true
}

// PipelineStatus is the health-check view of the pipeline scheduler.
type PipelineStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the current pipeline status for health checks.
func (pm *PipelineMonitor) Status() PipelineStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	status := PipelineStatus{
		Healthy: pm.isHealthy(),
	}

	if !pm.lastSuccess.IsZero() {
		status.LastSuccess = pm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(pm.lastSuccess).String()
	}
	if !pm.lastAttempt.IsZero() {
		status.LastAttempt = pm.lastAttempt.Format(time.RFC3339)
	}
	if pm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = pm.consecutiveErrors
		status.LastError = pm.lastError
	}

	return status
}

// ConsecutiveErrors exposes the failure streak for alert thresholds.
func (pm *PipelineMonitor) ConsecutiveErrors() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.consecutiveErrors
}
