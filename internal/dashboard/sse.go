package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agentsmith-labs/agentsmith/internal/runner"
	"github.com/agentsmith-labs/agentsmith/internal/services"
	"github.com/agentsmith-labs/agentsmith/internal/taskstore"
)

// pollInterval is how often each event-stream client re-checks the
// store for changes.
const pollInterval = 500 * time.Millisecond

type taskSnapshot struct {
	Tasks []*taskstore.Task `json:"tasks"`
	Stats *taskstore.Stats  `json:"stats"`
}

type initPayload struct {
	Tasks    []*taskstore.Task `json:"tasks"`
	Stats    *taskstore.Stats  `json:"stats"`
	Services []services.State  `json:"services"`
}

// handleEvents streams dashboard updates over SSE. Each client gets an
// init event with the current state, then incremental events whenever a
// section changes: tasks_updated, stats, activity, questions,
// processes, services, and agents. Sections are diffed per client so a
// reconnecting browser never misses a transition another client
// already consumed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	es := &eventStream{s: s, w: w, flusher: flusher}
	if err := es.sendInit(); err != nil {
		return
	}

	// The notifier pings when agent definition files change on disk;
	// store changes are picked up by the ticker.
	pings := s.notifier.subscribe()
	defer s.notifier.unsubscribe(pings)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := es.tick(); err != nil {
				return
			}
		case <-pings:
			if err := es.refreshAgents(); err != nil {
				return
			}
		}
	}
}

// eventStream tracks what one connected client has already seen.
type eventStream struct {
	s       *Server
	w       http.ResponseWriter
	flusher http.Flusher

	lastTasks     string
	lastQuestions string
	lastProcesses string
	lastServices  string
	lastAgents    string
	activityAfter int64
}

// sendInit pushes the full current state and primes the snapshots so
// the first tick only reports actual changes.
func (es *eventStream) sendInit() error {
	tasks, err := es.s.store.GetRootTasks()
	if err != nil {
		es.s.logger.Error("event stream init failed", "error", err)
		return err
	}
	stats, err := es.s.store.GetStats()
	if err != nil {
		es.s.logger.Error("event stream init failed", "error", err)
		return err
	}
	svcList := es.s.services.List()

	es.lastTasks = snapshot(taskSnapshot{Tasks: orEmpty(tasks), Stats: stats})
	es.lastServices = snapshot(svcList)
	if pending, qerr := es.s.store.GetAllPendingQuestions(); qerr == nil {
		es.lastQuestions = snapshot(orEmpty(pending))
	}
	es.lastProcesses = snapshot(es.s.processStates())
	es.lastAgents = snapshot(scanAgents(es.s.root))
	if last, aerr := es.s.store.LastActivityID(); aerr == nil {
		es.activityAfter = last
	}

	return es.writeEvent("init", initPayload{
		Tasks:    orEmpty(tasks),
		Stats:    stats,
		Services: svcList,
	})
}

// tick re-queries the store and pushes every section that changed
// since this client last saw it. Query errors skip the section for one
// cycle; write errors end the stream.
func (es *eventStream) tick() error {
	store := es.s.store

	tasks, terr := store.GetRootTasks()
	stats, serr := store.GetStats()
	if terr != nil || serr != nil {
		es.s.logger.Error("event poll failed", "error", errors.Join(terr, serr))
	} else if snap := snapshot(taskSnapshot{Tasks: orEmpty(tasks), Stats: stats}); snap != es.lastTasks {
		es.lastTasks = snap
		if err := es.writeEvent("tasks_updated", orEmpty(tasks)); err != nil {
			return err
		}
		if err := es.writeEvent("stats", stats); err != nil {
			return err
		}
	}

	if activity, err := store.GetActivitySince(es.activityAfter); err != nil {
		es.s.logger.Error("event poll failed", "error", err)
	} else if len(activity) > 0 {
		es.activityAfter = activity[len(activity)-1].ID
		if err := es.writeEvent("activity", activity); err != nil {
			return err
		}
	}

	if pending, err := store.GetAllPendingQuestions(); err != nil {
		es.s.logger.Error("event poll failed", "error", err)
	} else if snap := snapshot(orEmpty(pending)); snap != es.lastQuestions {
		es.lastQuestions = snap
		if err := es.writeEvent("questions", orEmpty(pending)); err != nil {
			return err
		}
	}

	// Process states shrink to an empty map when the last agent exits;
	// pushing that transition is what clears stale spinners in the UI.
	states := es.s.processStates()
	if snap := snapshot(states); snap != es.lastProcesses {
		es.lastProcesses = snap
		if err := es.writeEvent("processes", states); err != nil {
			return err
		}
	}

	if es.s.services.HasServices() {
		list := es.s.services.List()
		if snap := snapshot(list); snap != es.lastServices {
			es.lastServices = snap
			if err := es.writeEvent("services", list); err != nil {
				return err
			}
		}
	}

	return nil
}

// refreshAgents re-scans the agents directory after a filesystem ping.
func (es *eventStream) refreshAgents() error {
	agents := scanAgents(es.s.root)
	snap := snapshot(agents)
	if snap == es.lastAgents {
		return nil
	}
	es.lastAgents = snap
	return es.writeEvent("agents", agents)
}

func (es *eventStream) writeEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		es.s.logger.Error("failed to encode event", "event", event, "error", err)
		return nil
	}
	if _, err := fmt.Fprintf(es.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	es.flusher.Flush()
	return nil
}

// processStates maps task IDs to the state of their agent process,
// covering both in-memory processes and orphans found via the store.
func (s *Server) processStates() map[string]runner.Status {
	states := make(map[string]runner.Status)
	for _, id := range s.runner.ListRunning() {
		states[id] = s.runner.GetStatus(id)
	}
	return states
}

// snapshot renders v as JSON for change detection. Map keys marshal in
// sorted order, so equal states always produce equal snapshots.
func snapshot(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
