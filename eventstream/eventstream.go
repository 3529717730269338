package eventstream

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/remotefiles"
	"github.com/rclone/vault/store"
)

// Service is the reconnecting subscription multiplexer over one
// socket. The first subscriber of a (mount, path) bucket registers a
// server listener, the last one's removal deregisters it.
type Service struct {
	url     string
	dialer  Dialer
	auth    remote.AuthProvider
	store   *store.Store
	runtime vault.Runtime
	config  vault.EventstreamConfig

	mu            sync.Mutex
	conn          Conn
	nextRequestId int64
	disconnected  bool
	pingStop      chan struct{}
}

// NewService creates an event stream Service
func NewService(url string, dialer Dialer, auth remote.AuthProvider, st *store.Store, runtime vault.Runtime, config vault.EventstreamConfig) *Service {
	return &Service{
		url:     url,
		dialer:  dialer,
		auth:    auth,
		store:   st,
		runtime: runtime,
		config:  config,
	}
}

func (s *Service) setStatus(status store.ConnectionStatus) {
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventEventstream)
		state.Eventstream.Status = status
	})
}

// Connect starts the connection loop. It returns immediately; the
// connection state is observable through the store.
func (s *Service) Connect(ctx context.Context) {
	s.mu.Lock()
	s.disconnected = false
	s.mu.Unlock()
	go s.run(ctx)
}

// Disconnect closes the connection. Disconnected is terminal until
// the next Connect.
func (s *Service) Disconnect() {
	s.mu.Lock()
	s.disconnected = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.setStatus(store.ConnectionDisconnected)
}

func (s *Service) isDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// run is the connection loop: dial, authenticate, re-register,
// consume events, reconnect on close.
func (s *Service) run(ctx context.Context) {
	for {
		if s.isDisconnected() || ctx.Err() != nil {
			s.setStatus(store.ConnectionDisconnected)
			return
		}

		s.setStatus(store.ConnectionConnecting)

		conn, err := s.dialer(ctx, s.url)
		if err != nil {
			vault.Debugf(nil, "eventstream: connect failed: %v", err)
			s.reconnectDelay()
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		if err := s.authenticate(ctx, conn); err != nil {
			vault.Debugf(nil, "eventstream: authentication failed: %v", err)
			_ = conn.Close()
			s.reconnectDelay()
			continue
		}

		s.setStatus(store.ConnectionConnected)
		s.registerAllListeners()
		s.startPing(conn)

		s.readLoop(conn)
		s.stopPing()

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()

		if s.isDisconnected() || ctx.Err() != nil {
			s.setStatus(store.ConnectionDisconnected)
			return
		}

		s.reconnectDelay()
	}
}

// reconnectDelay flips every listener to unregistered and waits
// before the next connection attempt.
func (s *Service) reconnectDelay() {
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventEventstream)
		state.Eventstream.Status = store.ConnectionReconnecting
		for _, listener := range state.Eventstream.Listeners {
			listener.Status = store.ListenerUnregistered
			listener.ServerListenerId = 0
		}
	})
	s.runtime.Sleep(s.config.ReconnectDelay)
}

// authenticate sends the auth frame and waits for the authenticated
// response. Unknown messages are skipped.
func (s *Service) authenticate(ctx context.Context, conn Conn) error {
	s.setStatus(store.ConnectionAuthenticating)

	authorization, err := s.auth.GetAuthorization(ctx, false)
	if err != nil {
		return err
	}
	if err := s.write(conn, authMessage{Type: messageTypeAuth, Authorization: authorization}); err != nil {
		return err
	}
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var message serverMessage
		if err := json.Unmarshal(data, &message); err != nil {
			continue
		}
		if message.Type == messageTypeAuthenticated {
			return nil
		}
	}
}

func (s *Service) write(conn Conn, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}

// startPing pings the server periodically while connected
func (s *Service) startPing(conn Conn) {
	stop := make(chan struct{})
	s.mu.Lock()
	s.pingStop = stop
	s.mu.Unlock()
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			s.runtime.Sleep(s.config.PingInterval)
			select {
			case <-stop:
				return
			default:
			}
			if err := s.write(conn, pingMessage{Type: messageTypePing}); err != nil {
				return
			}
		}
	}()
}

func (s *Service) stopPing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
}

// readLoop consumes messages until the connection breaks
func (s *Service) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var message serverMessage
		if err := json.Unmarshal(data, &message); err != nil {
			vault.Debugf(nil, "eventstream: invalid message: %v", err)
			continue
		}
		s.handleMessage(conn, &message)
	}
}

// handleMessage processes one inbound message. Unknown types are
// silently ignored for forward compatibility.
func (s *Service) handleMessage(conn Conn, message *serverMessage) {
	switch message.Type {
	case messageTypeRegistered:
		s.handleRegistered(conn, message.RequestId, message.ListenerId)
	case messageTypeDeregistered:
		// nothing to do - the listener is already gone locally
	case messageTypeEvent:
		s.handleEvent(message.ListenerId, message.Event)
	}
}

// handleRegistered finishes a listener registration. A registration
// whose caller went away in the meantime is immediately deregistered.
func (s *Service) handleRegistered(conn Conn, requestId int64, serverListenerId int64) {
	canceled := false
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		for _, listener := range state.Eventstream.Listeners {
			if listener.RequestId != requestId {
				continue
			}
			if listener.Canceled {
				canceled = true
				delete(state.Eventstream.Listeners, listener.Id)
				delete(state.Eventstream.ListenersByKey, store.MountListenerKey(listener.MountId, listener.Path))
			} else {
				listener.Status = store.ListenerRegistered
				listener.ServerListenerId = serverListenerId
			}
			notify(store.EventEventstream)
			return
		}
	})
	if canceled {
		if err := s.write(conn, deregisterMessage{Type: messageTypeDeregister, ListenerId: serverListenerId}); err != nil {
			vault.Debugf(nil, "eventstream: deregister failed: %v", err)
		}
	}
}

// handleEvent applies a file event to the remote files model. The
// event path is joined with the listener's path which is a prefix.
func (s *Service) handleEvent(serverListenerId int64, event *serverEvent) {
	if event == nil {
		return
	}

	var mountId vault.MountId
	var listenerPath vault.RemotePath
	found := false
	s.store.WithState(func(state *store.State) {
		for _, listener := range state.Eventstream.Listeners {
			if listener.Status == store.ListenerRegistered && listener.ServerListenerId == serverListenerId {
				mountId = listener.MountId
				listenerPath = listener.Path
				found = true
				return
			}
		}
	})
	if !found {
		return
	}

	path := vault.RemotePathJoin(listenerPath, vault.RemotePath(event.Path))
	newPath := vault.RemotePathJoin(listenerPath, vault.RemotePath(event.NewPath))

	var file remote.FilesFile
	if len(event.File) > 0 {
		if err := json.Unmarshal(event.File, &file); err != nil {
			vault.Debugf(nil, "eventstream: invalid event file: %v", err)
			return
		}
	}

	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		switch event.Type {
		case eventTypeFileCreated:
			remotefiles.FileCreated(state, notify, mutationState, mutationNotify, mountId, path, file)
		case eventTypeFileRemoved:
			remotefiles.FileRemoved(state, notify, mutationState, mutationNotify, mountId, path)
		case eventTypeFileCopied:
			remotefiles.FileCopied(state, notify, mutationState, mutationNotify, mountId, newPath, file)
		case eventTypeFileMoved:
			remotefiles.FileMoved(state, notify, mutationState, mutationNotify, mountId, path, newPath, file)
		}
	})
}

// registerAllListeners re-registers every listener with fresh
// request ids after a (re)connect.
func (s *Service) registerAllListeners() {
	var messages []registerMessage
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventEventstream)
		for _, listener := range state.Eventstream.Listeners {
			if listener.Canceled {
				continue
			}
			requestId := atomic.AddInt64(&s.nextRequestId, 1)
			listener.Status = store.ListenerRegistering
			listener.RequestId = requestId
			messages = append(messages, registerMessage{
				Type:      messageTypeRegister,
				RequestId: requestId,
				MountId:   string(listener.MountId),
				Path:      string(listener.Path),
			})
		}
	})
	s.sendRegisterMessages(messages)
}

func (s *Service) sendRegisterMessages(messages []registerMessage) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	for _, message := range messages {
		if err := s.write(conn, message); err != nil {
			vault.Debugf(nil, "eventstream: register failed: %v", err)
			return
		}
	}
}

// MountSubscription is a caller's interest in events of a (mount,
// path) subtree. Close releases it.
type MountSubscription struct {
	service      *Service
	listenerId   uint32
	subscriberId uint32
	MountId      vault.MountId
	Path         vault.RemotePath
}

// Subscribe creates a mount subscription. The first subscriber of a
// bucket creates the server listener.
func (s *Service) Subscribe(mountId vault.MountId, path vault.RemotePath) *MountSubscription {
	subscriberId := store.NextId()
	key := store.MountListenerKey(mountId, path)

	var listenerId uint32
	var requests []store.EventstreamRequest
	connected := false

	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventEventstream)

		if id, ok := state.Eventstream.ListenersByKey[key]; ok {
			listener := state.Eventstream.Listeners[id]
			listener.Canceled = false
			listener.Subscribers[subscriberId] = true
			listenerId = id
			return
		}

		listenerId = store.NextId()
		listener := &store.MountListener{
			Id:          listenerId,
			MountId:     mountId,
			Path:        path,
			Status:      store.ListenerUnregistered,
			Subscribers: map[uint32]bool{subscriberId: true},
		}
		state.Eventstream.Listeners[listenerId] = listener
		state.Eventstream.ListenersByKey[key] = listenerId

		if state.Eventstream.Status == store.ConnectionConnected {
			connected = true
			requestId := atomic.AddInt64(&s.nextRequestId, 1)
			listener.Status = store.ListenerRegistering
			listener.RequestId = requestId
			mutationState.Eventstream.Requests = append(mutationState.Eventstream.Requests,
				store.EventstreamRequest{Type: store.EventstreamRequestRegister, ListenerId: listenerId})
			requests = append(requests, store.EventstreamRequest{Type: store.EventstreamRequestRegister, ListenerId: listenerId})
		}
	})

	if connected {
		s.performRequests(requests)
	}

	return &MountSubscription{
		service:      s,
		listenerId:   listenerId,
		subscriberId: subscriberId,
		MountId:      mountId,
		Path:         path,
	}
}

// Close removes the subscription. The last subscriber of a bucket
// deregisters the server listener; a listener which is still
// registering is flagged canceled and deregistered when the server
// confirms it.
func (sub *MountSubscription) Close() {
	s := sub.service
	var requests []store.EventstreamRequest

	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, _ store.MutationNotifyFunc) {
		listener, ok := state.Eventstream.Listeners[sub.listenerId]
		if !ok {
			return
		}
		notify(store.EventEventstream)

		delete(listener.Subscribers, sub.subscriberId)
		if len(listener.Subscribers) > 0 {
			return
		}

		key := store.MountListenerKey(listener.MountId, listener.Path)

		switch listener.Status {
		case store.ListenerRegistering:
			listener.Canceled = true
		case store.ListenerRegistered:
			request := store.EventstreamRequest{
				Type:             store.EventstreamRequestDeregister,
				ListenerId:       listener.Id,
				ServerListenerId: listener.ServerListenerId,
			}
			mutationState.Eventstream.Requests = append(mutationState.Eventstream.Requests, request)
			requests = append(requests, request)
			delete(state.Eventstream.Listeners, listener.Id)
			delete(state.Eventstream.ListenersByKey, key)
		default:
			delete(state.Eventstream.Listeners, listener.Id)
			delete(state.Eventstream.ListenersByKey, key)
		}
	})

	s.performRequests(requests)
}

// performRequests sends the wire requests queued during a mutate,
// outside the store lock.
func (s *Service) performRequests(requests []store.EventstreamRequest) {
	if len(requests) == 0 {
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	for _, request := range requests {
		switch request.Type {
		case store.EventstreamRequestRegister:
			var message *registerMessage
			s.store.WithState(func(state *store.State) {
				if listener, ok := state.Eventstream.Listeners[request.ListenerId]; ok {
					message = &registerMessage{
						Type:      messageTypeRegister,
						RequestId: listener.RequestId,
						MountId:   string(listener.MountId),
						Path:      string(listener.Path),
					}
				}
			})
			if message != nil {
				if err := s.write(conn, *message); err != nil {
					vault.Debugf(nil, "eventstream: register failed: %v", err)
				}
			}
		case store.EventstreamRequestDeregister:
			if err := s.write(conn, deregisterMessage{Type: messageTypeDeregister, ListenerId: request.ServerListenerId}); err != nil {
				vault.Debugf(nil, "eventstream: deregister failed: %v", err)
			}
		}
	}
}
