// This package provides a high-level entry point to go-discussions. It owns the encrypted database, the
// discussion manager and, when a NATS url is configured, the publisher mirroring committed events.
package discussions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/meow-io/go-discussions/clock"
	"github.com/meow-io/go-discussions/config"
	"github.com/meow-io/go-discussions/discussion"
	"github.com/meow-io/go-discussions/internal/db"
	"github.com/meow-io/go-discussions/transport/natsevents"
	"go.uber.org/zap"
)

const (
	// Constants for application state.
	StateNew = iota
	StateInitialized
	StateRunning
)

// An event indicating a change in the state of the store.
type AppState struct {
	State int
}

type Discussions struct {
	DB         *db.Database
	config     *config.Config
	log        *zap.SugaredLogger
	state      int
	clock      clock.Clock
	directory  discussion.Directory
	manager    *discussion.Manager
	publisher  *natsevents.Publisher
	updates    chan interface{}
	cancelFunc context.CancelFunc
	finished   sync.WaitGroup
}

// Create a discussions instance rooted at the configured directory.
func NewDiscussions(c *config.Config, dir discussion.Directory) (*Discussions, error) {
	log := c.Logger("")
	absRootPath, err := filepath.Abs(c.RootDir)
	if err != nil {
		return nil, err
	}
	c.RootDir = absRootPath
	log.Debugf("making discussions, using root path of %s", c.RootDir)

	if err := os.MkdirAll(c.RootDir, 0o700); err != nil {
		return nil, err
	}
	database, err := db.NewDatabase(c, path.Join(c.RootDir, "data"))
	if err != nil {
		return nil, err
	}

	state := StateNew
	if database.Initialized() {
		state = StateInitialized
	}

	return &Discussions{
		DB:        database,
		config:    c,
		log:       log,
		state:     state,
		clock:     clock.NewSystemClock(),
		directory: dir,
		updates:   make(chan interface{}, c.UpdatesChannelCapacity),
	}, nil
}

// Makes a key from a password
func (s *Discussions) NewKey(password string) ([]byte, error) {
	return newKey(password, s.config.RootDir, "salt")
}

// Gets the committed discussion events, as well as *AppState.
func (s *Discussions) Updates() chan interface{} {
	return s.updates
}

// Returns the discussion manager. Only usable while running.
func (s *Discussions) Manager() *discussion.Manager {
	return s.manager
}

func (s *Discussions) New() bool {
	return s.state == StateNew
}

func (s *Discussions) Initialized() bool {
	return s.state == StateInitialized
}

func (s *Discussions) Running() bool {
	return s.state == StateRunning
}

// Initialize the store with a given key and open it.
func (s *Discussions) Initialize(key []byte) error {
	if s.state != StateNew {
		return errors.New("cannot initialize unless in state new")
	}
	if err := s.DB.Initialize(key); err != nil {
		return err
	}
	s.setState(StateInitialized)
	return s.Open(key)
}

// Open an existing store with a given key.
func (s *Discussions) Open(key []byte) error {
	if s.state != StateInitialized {
		return errors.New("cannot open unless in state initialized")
	}
	if err := s.DB.Open(key); err != nil {
		return err
	}

	manager, err := discussion.NewManager(s.config, s.DB, s.directory, s.clock)
	if err != nil {
		return err
	}
	s.manager = manager

	if s.config.NatsURL != "" {
		publisher, err := natsevents.Connect(s.config)
		if err != nil {
			return err
		}
		s.publisher = publisher
	}

	ctx, cancelFunc := context.WithCancel(context.Background())
	s.cancelFunc = cancelFunc
	if err := s.manager.Start(); err != nil {
		return err
	}
	s.setState(StateRunning)
	s.startUpdatePassing(ctx)
	return nil
}

// Gracefully stop a running instance.
func (s *Discussions) Shutdown() error {
	if s.state != StateRunning {
		return nil
	}
	// try to clean up memory after a shutdown
	defer runtime.GC()

	errs := make([]string, 0)
	s.cancelFunc()
	s.finished.Wait()

	if err := s.manager.Shutdown(); err != nil {
		errs = append(errs, err.Error())
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := s.DB.Shutdown(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) != 0 {
		return fmt.Errorf("error during shutdown: %s", strings.Join(errs, ", "))
	}

	s.cancelFunc = nil
	s.manager = nil
	s.publisher = nil

	s.setState(StateInitialized)

	close(s.updates)
	s.updates = make(chan interface{}, s.config.UpdatesChannelCapacity)
	return nil
}

func (s *Discussions) setState(state int) {
	s.state = state
	select {
	case s.updates <- &AppState{state}:
	default:
		s.log.Warnf("dropping app state %d, updates channel is full", state)
	}
}

func (s *Discussions) startUpdatePassing(ctx context.Context) {
	updates := s.manager.Updates()
	s.finished.Add(1)
	go func() {
		defer s.finished.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-updates:
				s.log.Debugf("passing update: %#v", e)
				if s.publisher != nil {
					if err := s.publisher.Publish(e, s.clock.Now()); err != nil {
						s.log.Warnf("error publishing update: %#v", err)
					}
				}
				select {
				case s.updates <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}
