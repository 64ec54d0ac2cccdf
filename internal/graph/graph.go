// Package graph serves a live view of the module structure of the indexed
// projects over HTTP and pushes changes to browsers through a websocket.
package graph

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("springls.graph")

// Data holds the nodes and links of the graph.
type Data struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Node is one module. ID is unique for the lifetime of a Viewer.
type Node struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Group string `json:"group"`
}

// Link is a dependency between two modules.
type Link struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

// Message is sent over the websocket to update clients.
type Message struct {
	Op    string `json:"op"` // "init", "add", "update", "deleteNode", "deleteLink"
	Graph *Data  `json:"graph,omitempty"`
	Node  *Node  `json:"node,omitempty"`
	Link  *Link  `json:"link,omitempty"`
}

// ProjectGraph is the desired state of one project's part of the graph.
type ProjectGraph struct {
	Name    string
	Modules map[string]string   // module name -> label
	Depends map[string][]string // module name -> modules it uses
}

//go:embed static/*
var staticFiles embed.FS

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type nodeKey struct {
	project string
	module  string
}

// Viewer owns the graph state and the connected clients.
type Viewer struct {
	mu     sync.Mutex
	ids    map[nodeKey]int
	nodes  map[int]Node
	links  map[Link]bool
	owners map[int]string
	nextID int

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool

	server *http.Server
	url    string
}

func NewViewer() *Viewer {
	return &Viewer{
		ids:     make(map[nodeKey]int),
		nodes:   make(map[int]Node),
		links:   make(map[Link]bool),
		owners:  make(map[int]string),
		clients: make(map[*websocket.Conn]bool),
	}
}

// Start serves the viewer on addr (":0" picks a free port) and returns the
// URL of the page. Later calls return the same URL.
func (v *Viewer) Start(addr string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.server != nil {
		return v.url, nil
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFiles)))
	mux.HandleFunc("/ws", v.handleWS)
	v.server = &http.Server{Handler: mux}
	v.url = "http://" + l.Addr().String() + "/static/"

	go func() {
		if err := v.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("graph server: %v", err)
		}
	}()
	log.Infof("architecture graph at %s", v.url)
	return v.url, nil
}

func (v *Viewer) Close() error {
	v.mu.Lock()
	srv := v.server
	v.server = nil
	v.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(context.Background())
}

// Set replaces the nodes and links of one project and broadcasts the
// difference.
func (v *Viewer) Set(projectURI string, g ProjectGraph) {
	var msgs []Message

	v.mu.Lock()
	wanted := map[int]bool{}
	names := make([]string, 0, len(g.Modules))
	for name := range g.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key := nodeKey{projectURI, name}
		node := Node{Label: g.Modules[name], Group: g.Name}
		id, known := v.ids[key]
		if !known {
			v.nextID++
			id = v.nextID
			v.ids[key] = id
			v.owners[id] = projectURI
		}
		node.ID = id
		wanted[id] = true
		if old, ok := v.nodes[id]; !ok {
			msgs = append(msgs, Message{Op: "add", Node: &node})
		} else if old != node {
			msgs = append(msgs, Message{Op: "update", Node: &node})
		}
		v.nodes[id] = node
	}

	wantedLinks := map[Link]bool{}
	for from, targets := range g.Depends {
		src, ok := v.ids[nodeKey{projectURI, from}]
		if !ok || !wanted[src] {
			continue
		}
		for _, to := range targets {
			if dst, ok := v.ids[nodeKey{projectURI, to}]; ok && wanted[dst] && dst != src {
				wantedLinks[Link{Source: src, Target: dst}] = true
			}
		}
	}
	msgs = append(msgs, v.prune(projectURI, wanted, wantedLinks)...)
	for l := range wantedLinks {
		if !v.links[l] {
			v.links[l] = true
			msgs = append(msgs, Message{Op: "add", Link: &l})
		}
	}
	v.mu.Unlock()

	v.broadcast(msgs)
}

// Remove drops every node of a project.
func (v *Viewer) Remove(projectURI string) {
	v.mu.Lock()
	msgs := v.prune(projectURI, nil, nil)
	v.mu.Unlock()
	v.broadcast(msgs)
}

// prune deletes the project's links and nodes that are not wanted.
func (v *Viewer) prune(projectURI string, nodes map[int]bool, links map[Link]bool) []Message {
	var msgs []Message
	for l := range v.links {
		if v.owners[l.Source] == projectURI && !links[l] {
			delete(v.links, l)
			msgs = append(msgs, Message{Op: "deleteLink", Link: &l})
		}
	}
	for id := range v.nodes {
		if v.owners[id] == projectURI && !nodes[id] {
			delete(v.nodes, id)
			msgs = append(msgs, Message{Op: "deleteNode", Node: &Node{ID: id}})
		}
	}
	return msgs
}

// Graph returns a copy of the current graph, sorted by id.
func (v *Viewer) Graph() Data {
	v.mu.Lock()
	defer v.mu.Unlock()
	data := Data{Nodes: make([]Node, 0, len(v.nodes)), Links: make([]Link, 0, len(v.links))}
	for _, n := range v.nodes {
		data.Nodes = append(data.Nodes, n)
	}
	for l := range v.links {
		data.Links = append(data.Links, l)
	}
	sort.Slice(data.Nodes, func(i, j int) bool { return data.Nodes[i].ID < data.Nodes[j].ID })
	sort.Slice(data.Links, func(i, j int) bool {
		if data.Links[i].Source != data.Links[j].Source {
			return data.Links[i].Source < data.Links[j].Source
		}
		return data.Links[i].Target < data.Links[j].Target
	})
	return data
}

// broadcast sends messages to all clients, dropping the ones that fail.
func (v *Viewer) broadcast(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	v.clientsMu.Lock()
	defer v.clientsMu.Unlock()
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Errorf("marshal %s: %v", msg.Op, err)
			continue
		}
		for conn := range v.clients {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warningf("broadcast: %v", err)
				conn.Close()
				delete(v.clients, conn)
			}
		}
	}
}

// handleWS upgrades the connection and sends the initial graph.
func (v *Viewer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("websocket upgrade: %v", err)
		return
	}

	// registering under clientsMu keeps broadcasts from slipping in
	// between the initial state and the first update
	v.clientsMu.Lock()
	state := v.Graph()
	data, err := json.Marshal(Message{Op: "init", Graph: &state})
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, data)
	}
	if err == nil {
		v.clients[conn] = true
	}
	v.clientsMu.Unlock()
	if err != nil {
		conn.Close()
		return
	}
	defer func() {
		v.clientsMu.Lock()
		delete(v.clients, conn)
		v.clientsMu.Unlock()
		conn.Close()
	}()

	// keep connection open
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
}
