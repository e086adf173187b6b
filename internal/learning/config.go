package learning

type Config struct {
	EvalEvery   int     `envconfig:"DRIFTD_LEARNING_EVAL_EVERY" default:"10"`
	SevereScore float64 `envconfig:"DRIFTD_LEARNING_SEVERE_SCORE" default:"0.5"`
	WorkerNum   int     `envconfig:"DRIFTD_LEARNING_WORKER_NUM" default:"1"`
}
