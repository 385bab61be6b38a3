package browseragent

import (
	"context"
	"errors"
	"sort"
	"sync"

	"climbwall/metrics"
)

var (
	ErrTaskRunning  = errors.New("task is already running")
	ErrNoActiveTask = errors.New("no active task")
	ErrStarting     = errors.New("agent is starting")
)

// startingAgent Holds the slot of a task while its agent is created
type startingAgent struct{}

func (*startingAgent) Run(context.Context) (*History, error) { return &History{}, ErrStopped }

func (*startingAgent) Stop() {}

func (*startingAgent) Screenshot(context.Context) ([]byte, error) { return nil, ErrStarting }

// Registry Active agents keyed by their task description
type Registry struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register Track agent under task, fails when the task already has an agent
func (r *Registry) Register(task string, agent Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[task]; ok {
		return ErrTaskRunning
	}
	r.agents[task] = agent
	metrics.ActiveAgents.Set(float64(len(r.agents)))
	return nil
}

// Unregister Remove agent, a newer agent registered under the same task is left alone
func (r *Registry) Unregister(task string, agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.agents[task]; ok && current == agent {
		delete(r.agents, task)
	}
	metrics.ActiveAgents.Set(float64(len(r.agents)))
}

// Replace Swap old for agent, false when old is no longer registered under task
func (r *Registry) Replace(task string, old Agent, agent Agent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.agents[task]; !ok || current != old {
		return false
	}
	r.agents[task] = agent
	return true
}

func (r *Registry) Get(task string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[task]
	return agent, ok
}

// Stop Stop and remove the agent of task
func (r *Registry) Stop(task string) error {
	r.mu.Lock()
	agent, ok := r.agents[task]
	if ok {
		delete(r.agents, task)
	}
	metrics.ActiveAgents.Set(float64(len(r.agents)))
	r.mu.Unlock()

	if !ok {
		return ErrNoActiveTask
	}
	agent.Stop()
	return nil
}

// Active Tasks with a running agent, sorted
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks := make([]string, 0, len(r.agents))
	for task := range r.agents {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	return tasks
}
