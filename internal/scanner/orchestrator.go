package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/search"
	"mcpregistry-go/internal/storage"
)

// Trigger records why a scan ran.
const (
	TriggerRegistration = "registration"
	TriggerOnDemand     = "on-demand"
	TriggerSweep        = "sweep"
)

// Task is one queued scan.
type Task struct {
	ServerPath string
	Trigger    string
}

// Orchestrator runs analyzers over servers, records results, and applies the
// gating rule: an unsafe server stays disabled and carries the
// security-pending tag until an admin enables it explicitly.
type Orchestrator struct {
	cfg       *config.SecurityConfig
	backend   storage.Backend
	indexer   *search.Indexer
	analyzers []Analyzer
	logger    *zap.Logger

	queue chan Task
}

// New builds the orchestrator with the configured analyzers.
func New(cfg *config.SecurityConfig, backend storage.Backend, indexer *search.Indexer, logger *zap.Logger) *Orchestrator {
	var analyzers []Analyzer
	for _, name := range cfg.Analyzers {
		if name == "rules" {
			analyzers = append(analyzers, NewRuleAnalyzer())
		} else {
			logger.Warn("unknown analyzer configured", zap.String("analyzer", name))
		}
	}
	if len(analyzers) == 0 {
		analyzers = append(analyzers, NewRuleAnalyzer())
	}

	return &Orchestrator{
		cfg:       cfg,
		backend:   backend,
		indexer:   indexer,
		analyzers: analyzers,
		logger:    logger,
		queue:     make(chan Task, 256),
	}
}

// Enqueue schedules a scan; a full queue drops the task, the periodic sweep
// picks strays up later.
func (o *Orchestrator) Enqueue(task Task) {
	select {
	case o.queue <- task:
	default:
		o.logger.Warn("scan queue full, dropping task", zap.String("server", task.ServerPath))
	}
}

// Run processes queued scans and drives the periodic sweep until the
// context ends.
func (o *Orchestrator) Run(ctx context.Context) {
	var sweep <-chan time.Time
	if o.cfg.SweepInterval > 0 {
		ticker := time.NewTicker(o.cfg.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-o.queue:
			if _, err := o.Scan(ctx, task.ServerPath, task.Trigger); err != nil {
				o.logger.Error("scan failed",
					zap.String("server", task.ServerPath),
					zap.String("trigger", task.Trigger),
					zap.Error(err))
			}
		case <-sweep:
			o.runSweep(ctx)
		}
	}
}

func (o *Orchestrator) runSweep(ctx context.Context) {
	servers, err := o.backend.Servers().ListAll(ctx)
	if err != nil {
		o.logger.Error("sweep: listing servers failed", zap.Error(err))
		return
	}
	o.logger.Info("starting security sweep", zap.Int("servers", len(servers)))
	for _, server := range servers {
		if ctx.Err() != nil {
			return
		}
		if server.Federation.IsFederated() {
			continue
		}
		if _, err := o.Scan(ctx, server.Path, TriggerSweep); err != nil {
			o.logger.Warn("sweep scan failed", zap.String("server", server.Path), zap.Error(err))
		}
	}
}

// Scan runs all analyzers over the server's tools under the scan timeout,
// appends the result, and applies gating for registration-triggered scans.
func (o *Orchestrator) Scan(ctx context.Context, serverPath, trigger string) (*contracts.ScanResult, error) {
	server, err := o.backend.Servers().Get(ctx, serverPath)
	if err != nil {
		return nil, err
	}

	result := &contracts.ScanResult{
		ScanID:        uuid.NewString(),
		ServerPath:    serverPath,
		ScanTimestamp: time.Now().UTC(),
		ScanStatus:    contracts.ScanStatusInProgress,
		ScanMetadata:  map[string]string{"trigger": trigger},
	}

	scanCtx, cancel := context.WithTimeout(ctx, o.cfg.ScanTimeout)
	defer cancel()

	findings, err := o.analyze(scanCtx, server)
	if err != nil {
		result.ScanStatus = contracts.ScanStatusFailed
		if scanCtx.Err() == context.DeadlineExceeded {
			result.ScanMetadata["timeout"] = o.cfg.ScanTimeout.String()
			err = apperrors.Wrap(apperrors.KindScanTimeout,
				fmt.Sprintf("scan of %s exceeded %s", serverPath, o.cfg.ScanTimeout), err)
		}
		result.ScanMetadata["error"] = err.Error()
		if appendErr := o.backend.Scans().Append(ctx, result); appendErr != nil {
			o.logger.Error("failed to record failed scan", zap.Error(appendErr))
		}
		return result, err
	}

	result.Findings = findings
	result.ScanStatus = verdict(findings)
	result.RiskScore = riskScore(findings)

	if err := o.backend.Scans().Append(ctx, result); err != nil {
		return nil, err
	}

	if err := o.applyGating(ctx, server, result, trigger); err != nil {
		return nil, err
	}

	o.logger.Info("scan complete",
		zap.String("server", serverPath),
		zap.String("status", string(result.ScanStatus)),
		zap.String("trigger", trigger),
		zap.Int("findings", len(findings)))
	return result, nil
}

func (o *Orchestrator) analyze(ctx context.Context, server *contracts.Server) ([]contracts.ToolFinding, error) {
	var findings []contracts.ToolFinding
	for _, analyzer := range o.analyzers {
		for _, tool := range server.ToolList {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			finding, err := analyzer.AnalyzeTool(ctx, tool)
			if err != nil {
				return nil, fmt.Errorf("analyzer %s on tool %s: %w", analyzer.Name(), tool.Name, err)
			}
			findings = append(findings, *finding)
		}
	}
	return findings, nil
}

// verdict derives the overall status. Unsafe requires a HIGH or CRITICAL
// finding; low and medium findings still count as safe for gating, the
// findings themselves carry the warnings.
func verdict(findings []contracts.ToolFinding) contracts.ScanStatus {
	for _, f := range findings {
		switch f.Severity {
		case contracts.FindingHigh, contracts.FindingCritical:
			return contracts.ScanStatusUnsafe
		}
	}
	return contracts.ScanStatusSafe
}

func riskScore(findings []contracts.ToolFinding) float64 {
	if len(findings) == 0 {
		return 0
	}
	// Risk is the mean severity rank on a [0, 1] scale (CRITICAL = 1.0).
	var total float64
	for _, f := range findings {
		total += float64(severityRank(f.Severity)) * 0.25
	}
	score := total / float64(len(findings))
	if score > 1 {
		score = 1
	}
	return score
}

// applyGating enforces the registration rule: unsafe servers stay disabled
// and get the security-pending tag; a safe registration scan enables the
// server that registration left disabled.
func (o *Orchestrator) applyGating(ctx context.Context, server *contracts.Server, result *contracts.ScanResult, trigger string) error {
	switch result.ScanStatus {
	case contracts.ScanStatusUnsafe:
		changed := false
		if !server.HasTag(contracts.SecurityPendingTag) {
			server.Tags = append(server.Tags, contracts.SecurityPendingTag)
			changed = true
		}
		if server.IsEnabled {
			server.IsEnabled = false
			changed = true
		}
		if changed {
			if err := o.backend.Servers().Update(ctx, server); err != nil {
				return err
			}
			return o.indexer.IndexServer(ctx, server)
		}
	case contracts.ScanStatusSafe:
		if trigger == TriggerRegistration && !server.IsEnabled {
			server.IsEnabled = true
			server.Tags = removeTag(server.Tags, contracts.SecurityPendingTag)
			if err := o.backend.Servers().Update(ctx, server); err != nil {
				return err
			}
			return o.indexer.IndexServer(ctx, server)
		}
	}
	return nil
}

func removeTag(tags []string, tag string) []string {
	out := tags[:0]
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}
