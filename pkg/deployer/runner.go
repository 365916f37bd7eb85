package deployer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/hangarlabs/hangar/pkg/types"
)

// ServiceExecutable is the entrypoint a build must leave in the
// workdir.
const ServiceExecutable = "service"

// ExecRunner runs the built service executable as a child process. The
// service binds the port handed to it through its environment; the
// runner picks a free one per start.
type ExecRunner struct{}

// NewExecRunner creates the process runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Start implements Runner.
func (r *ExecRunner) Start(ctx context.Context, deployment *types.Deployment, workdir string, logf func(string)) (string, func() error, error) {
	exe := filepath.Join(workdir, ServiceExecutable)
	if _, err := os.Stat(exe); err != nil {
		return "", nil, fmt.Errorf("built service executable missing: %w", err)
	}

	port, err := freePort()
	if err != nil {
		return "", nil, err
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	cmd := exec.CommandContext(ctx, exe)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("PORT=%d", port),
		fmt.Sprintf("ADDRESS=%s", address),
		fmt.Sprintf("HANGAR_DEPLOYMENT_ID=%s", deployment.ID),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", nil, err
	}

	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("failed to start service: %w", err)
	}

	var drained sync.WaitGroup
	for _, pipe := range []io.Reader{stdout, stderr} {
		drained.Add(1)
		go func(r io.Reader) {
			defer drained.Done()
			scanner := bufio.NewScanner(r)
			for scanner.Scan() {
				logf(scanner.Text())
			}
		}(pipe)
	}

	wait := func() error {
		drained.Wait()
		return cmd.Wait()
	}
	return address, wait, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate a port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
