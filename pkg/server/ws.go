package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"loglens/pkg/index"
	"loglens/pkg/query"
	"loglens/pkg/record"
	"loglens/pkg/stats"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

// wsClient is one interactive analysis session. The connection exclusively
// owns its index; a new load replaces it wholesale.
type wsClient struct {
	conn *websocket.Conn
	sess *session
	send chan interface{}
	done chan struct{}
}

// wsRequest is a client action. Query and stats act on the index the
// connection loaded earlier.
type wsRequest struct {
	Action string `json:"action"` // load, query, stats
	Path   string `json:"path,omitempty"`
	Query  string `json:"query,omitempty"`
	TopN   int    `json:"top_n,omitempty"`
}

// handleWebSocket handles WS /ws
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan interface{}, 16),
		done: make(chan struct{}),
	}

	go s.writePump(c)
	go s.readPump(c)
}

// readPump reads actions from the WebSocket
func (s *Server) readPump(c *wsClient) {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	for {
		var req wsRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			break
		}

		switch req.Action {
		case "load":
			s.wsLoad(c, req.Path)
		case "query":
			s.wsQuery(c, req.Query)
		case "stats":
			s.wsStats(c, req.Query, req.TopN)
		default:
			c.reply(map[string]interface{}{
				"type":  "error",
				"error": "unknown action: " + req.Action,
			})
		}
	}
}

// writePump sends messages to the WebSocket
func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (s *Server) wsLoad(c *wsClient, path string) {
	if path == "" {
		c.reply(map[string]interface{}{"type": "error", "error": "path is required"})
		return
	}

	res, err := s.loader.Load(path)
	if err != nil {
		c.reply(map[string]interface{}{"type": "error", "error": err.Error()})
		return
	}

	c.sess = &session{
		id:     newSessionID(),
		source: path,
		index:  index.Build(res.Records),
		result: res,
	}

	c.reply(map[string]interface{}{
		"type":       "loaded",
		"source":     path,
		"total":      c.sess.index.Len(),
		"skip_count": res.SkipCount(),
		"levels":     c.sess.index.Levels(),
		"namespaces": c.sess.index.Namespaces(),
	})
}

func (s *Server) wsQuery(c *wsClient, queryStr string) {
	if c.sess == nil {
		c.reply(map[string]interface{}{"type": "error", "error": "no file loaded"})
		return
	}

	f, err := query.Parse(queryStr)
	if err != nil {
		c.reply(map[string]interface{}{"type": "error", "error": err.Error()})
		return
	}

	records, err := query.Apply(c.sess.index, f)
	if err != nil {
		c.reply(map[string]interface{}{"type": "error", "error": err.Error()})
		return
	}
	if records == nil {
		records = []record.Record{}
	}

	c.reply(map[string]interface{}{
		"type":    "results",
		"records": records,
		"matched": len(records),
		"total":   c.sess.index.Len(),
	})
}

func (s *Server) wsStats(c *wsClient, queryStr string, topN int) {
	if c.sess == nil {
		c.reply(map[string]interface{}{"type": "error", "error": "no file loaded"})
		return
	}

	records, err := s.filtered(c.sess, queryStr)
	if err != nil {
		c.reply(map[string]interface{}{"type": "error", "error": err.Error()})
		return
	}

	opts := s.statsOpts
	if topN > 0 {
		opts.TopN = topN
	}

	c.reply(map[string]interface{}{
		"type":  "stats",
		"stats": stats.Compute(records, opts),
	})
}

// reply queues a message for the write pump, dropping it if the client is
// too far behind.
func (c *wsClient) reply(msg interface{}) {
	select {
	case c.send <- msg:
	default:
	}
}
