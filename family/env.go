package family

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

// Env is the process environment the framework reads. The broker exports the
// journal and notification sockets before spawning workers, so a worker sees
// the same values its broker was started with.
type Env struct {
	// ConfigDir is the directory with deployment overlay files and the
	// defaultauth mechanism file.
	ConfigDir string `env:"LAF_CONFIG"`

	// Deployment pins the deployment name for spawned workers.
	Deployment string `env:"LAF_DEPLOYMENT"`

	// TxID pins the transaction id of every request issued by this process.
	TxID string `env:"LAF-TX-ID"`

	JournalSock      string `env:"JOURNAL_SOCK"`
	JournalBinary    string `env:"JOURNAL_BINARY"`
	NotificationSock string `env:"NOTIFICATION_SOCK"`

	// WorkerSocket is the broker backend endpoint a spawned worker connects
	// back to.
	WorkerSocket string `env:"WORKER_SOCKET"`

	HTTPProxy  string `env:"http_proxy"`
	HTTPSProxy string `env:"https_proxy"`
}

// ReadEnv parses the framework environment variables.
func ReadEnv() (*Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("family: parse environment: %w", err)
	}
	return &e, nil
}
