package bootstrap

import (
	"labeler_server/adapter/in/worker"
	"labeler_server/config"
	"labeler_server/pkg/logger"
)

// Worker runs the periodic labeler.
type Worker struct {
	labeler *worker.PeriodicLabeler
}

// NewWorker builds the periodic labeler on its own dependency set.
func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	labeler := worker.NewPeriodicLabeler(deps.Pipeline, deps.Tokens, worker.PeriodicConfig{
		Interval:   cfg.LabelingInterval,
		Query:      cfg.LabelingQuery,
		MaxResults: cfg.LabelingMaxResults,
		RunOnStart: true,
	}, logger.Component("worker"))

	return &Worker{labeler: labeler}, cleanup, nil
}

func (w *Worker) Start() {
	w.labeler.Start()
}

func (w *Worker) Stop() {
	w.labeler.Stop()
}
