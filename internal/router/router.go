// Package router registers bot commands and dispatches inbound updates to
// their handlers through a bounded worker pool. All user-facing failure
// handling funnels through here: handlers resolve expected failures to chat
// replies themselves, and anything that escapes (error or panic) becomes a
// single generic failure reply.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	kit "grabbot/internal/transport"
	"grabbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string // command word without the leading slash
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Request carries everything a handler needs about one inbound command.
type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	Status   kit.MessageRef // unused by the router; handlers may stash state
	FromID   int64
	FromName string
	Command  string
	Args     []string
	Admin    bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

type Manager struct {
	mu     sync.RWMutex
	cmds   map[string]Command
	order  []string
	admins []int64

	log     logx.Logger
	adapter kit.Adapter

	defaultTimeout time.Duration
	jobs           chan func()
}

func NewManager(log logx.Logger, adapter kit.Adapter, admins []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cmds:           map[string]Command{},
		admins:         append([]int64(nil), admins...),
		log:            log,
		adapter:        adapter,
		defaultTimeout: 3 * time.Minute,
		jobs:           make(chan func(), 256),
	}
}

// SetAdmins replaces the admin list. Safe during hot reload.
func (m *Manager) SetAdmins(admins []int64) {
	cp := append([]int64(nil), admins...)
	m.mu.Lock()
	m.admins = cp
	m.mu.Unlock()
}

func (m *Manager) IsAdmin(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.admins {
		if id == userID {
			return true
		}
	}
	return false
}

// Register installs the command set and (best-effort) pushes the platform
// command menu.
func (m *Manager) Register(ctx context.Context, cmds ...Command) {
	m.mu.Lock()
	m.cmds = make(map[string]Command, len(cmds))
	m.order = m.order[:0]
	for _, c := range cmds {
		name := strings.TrimPrefix(strings.TrimSpace(c.Name), "/")
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		m.cmds[name] = c
		m.order = append(m.order, name)
	}
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := make([]kit.BotCommand, 0, len(cmds))
		for _, c := range m.Commands() {
			// Admin commands stay out of the public autocomplete menu.
			if c.Access == AccessAdminOnly {
				continue
			}
			menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
		}
		go func() {
			mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Commands returns the registered commands in registration order.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.cmds[name])
	}
	return out
}

func (m *Manager) lookup(name string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cmds[name]
	return c, ok
}
