package pool

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/levalup/quickdist/pkg/log"
	"github.com/levalup/quickdist/pkg/msg"
	"github.com/levalup/quickdist/pkg/script"
	"github.com/levalup/quickdist/pkg/transport"
)

// WorkerEnv marks a process as a re-exec'd pool worker. The main entry
// checks it before doing anything else, so worker children never parse CLI
// flags or bind sockets.
const WorkerEnv = "QUICKDIST_WORKER"

// IsWorkerProcess reports whether this process was spawned as a pool
// worker.
func IsWorkerProcess() bool {
	return os.Getenv(WorkerEnv) != ""
}

// RunWorker is the child-process entry point. It speaks the frame protocol
// on stdin/stdout: one INIT carrying the script and slot, then CALL frames
// until EXIT or EOF. Stdout belongs to the protocol; logs go to stderr.
func RunWorker() error {
	log.Init(log.Config{Level: log.InfoLevel, Output: os.Stderr})

	in := os.Stdin
	out := os.Stdout
	// Script output (print, io.write) goes to stderr so it never
	// interleaves with protocol frames.
	os.Stdout = os.Stderr

	var program *script.Program
	defer func() {
		if program != nil {
			program.Close()
		}
	}()

	for {
		req, err := readMessage(in)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var rep *msg.Message
		switch req.Cmd {
		case "INIT":
			program, rep = initWorker(req)
		case "CALL":
			if program == nil {
				rep = msg.New("ERROR", "worker is not initialized")
				break
			}
			results, err := program.Main(req.Args, req.Kwargs)
			if err != nil {
				rep = msg.New("ERROR", err.Error())
			} else {
				rep = msg.New("OK", results...)
			}
		case "EXIT":
			return writeMessage(out, msg.New("OK"))
		default:
			rep = msg.New("ERROR", fmt.Sprintf("Received unknown cmd %s", req.Cmd))
		}

		if err := writeMessage(out, rep); err != nil {
			return err
		}
	}
}

// initWorker loads the user script and runs its init entry. The slot index
// is already exported through PROCESS_ID/PID by the parent; it is echoed in
// the INIT payload for visibility.
func initWorker(req *msg.Message) (*script.Program, *msg.Message) {
	src := script.Source{}
	if path, ok := req.Kwargs["path"].(string); ok {
		src.Path = path
	}
	if text, ok := req.Kwargs["text"].(string); ok {
		src.Text = text
	}

	program, err := script.Load(src)
	if err != nil {
		return nil, msg.New("ERROR", err.Error())
	}
	if err := program.Init(); err != nil {
		program.Close()
		return nil, msg.New("ERROR", err.Error())
	}

	if slot, ok := req.Kwargs["slot"].(int64); ok {
		logger := log.WithSlot(int(slot))
		logger.Debug().Msg("worker initialized")
	}
	return program, msg.New("OK")
}

func readMessage(r io.Reader) (*msg.Message, error) {
	frame, err := transport.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return msg.Decode(frame)
}

func writeMessage(w io.Writer, m *msg.Message) error {
	frame, err := msg.Encode(m)
	if err != nil {
		return err
	}
	return transport.WriteFrame(w, frame)
}
