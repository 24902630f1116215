// Package service exposes a read-only HTTP API to inspect a running node: its
// stats, the channel, the replicated logs, and the current peer sessions.
package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/natternet/natter/src/channel"
	"github.com/natternet/natter/src/common"
	"github.com/natternet/natter/src/node"
	"github.com/sirupsen/logrus"
)

// Service wraps a node and its channel behind HTTP handlers.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	channel     *channel.Channel
	logger      *logrus.Entry
}

// NewService instantiates the service and registers its handlers.
func NewService(bindAddress string, n *node.Node, ch *channel.Channel, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		channel:     ch,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServeMux of the
// http package. It is possible that another server in the same process is
// simultaneously using the DefaultServeMux, in which case the handlers are
// accessible from both servers.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/channel", s.makeHandler(s.GetChannel))
	http.HandleFunc("/logs", s.makeHandler(s.GetLogs))
	http.HandleFunc("/log/", s.makeHandler(s.GetLog))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/sessions", s.makeHandler(s.GetSessions))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when another server has already been started with the
// DefaultServeMux and the same address:port combination; the handlers have
// already been registered when the service was instantiated.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	// Use the DefaultServeMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// ChannelInfo is the response of the /channel endpoint.
type ChannelInfo struct {
	URI          string   `json:"uri"`
	ID           string   `json:"id"`
	Owners       []string `json:"owners"`
	TotalEntries uint64   `json:"total_entries"`
}

// LogInfo summarises one replicated log for the /logs endpoint.
type LogInfo struct {
	Length uint64 `json:"length"`
	Head   string `json:"head"`
	Owned  bool   `json:"owned"`
}

// GetStats returns the node's stats map.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.Stats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetChannel returns the channel identity and its member logs.
func (s *Service) GetChannel(w http.ResponseWriter, r *http.Request) {
	info := ChannelInfo{
		URI:          s.channel.URI(),
		ID:           s.channel.ID().String(),
		Owners:       s.channel.Owners(),
		TotalEntries: s.channel.TotalEntries(),
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(info)
}

// GetLogs returns a summary of every log in the channel, keyed by owner.
func (s *Service) GetLogs(w http.ResponseWriter, r *http.Request) {
	res := map[string]LogInfo{}

	for owner, log := range s.channel.Logs() {
		length, head := log.Snapshot()
		res[owner] = LogInfo{
			Length: length,
			Head:   common.EncodeToString(head),
			Owned:  log.Owned(),
		}
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// GetLog returns the full entry list of one owner's log. The owner's public
// key is taken from the path, as in /log/<owner>.
func (s *Service) GetLog(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/log/"):]

	log, ok := s.channel.Log(param)
	if !ok {
		s.logger.Errorf("Unknown log owner %s", param)

		http.Error(w, "unknown log owner", http.StatusNotFound)

		return
	}

	entries, err := log.GetRange(0, log.Length())
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving log %s", param)

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(entries)
}

// GetPeers returns the peers with live sessions.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.node.GetPeers())
}

// GetSessions returns the replication phase of every live session.
func (s *Service) GetSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.node.SessionPhases())
}
