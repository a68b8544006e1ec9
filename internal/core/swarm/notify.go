package swarm

// Notifiee 连接事件接收者
//
// 回调在 swarm 的事件协程中按发生顺序串行调用，不应长时间阻塞。
type Notifiee interface {
	Connected(c *Conn)
	Disconnected(c *Conn)
}

// NotifyBundle 用函数实现 Notifiee，未设置的回调被忽略
type NotifyBundle struct {
	ConnectedF    func(*Conn)
	DisconnectedF func(*Conn)
}

// Connected 实现 Notifiee
func (nb *NotifyBundle) Connected(c *Conn) {
	if nb.ConnectedF != nil {
		nb.ConnectedF(c)
	}
}

// Disconnected 实现 Notifiee
func (nb *NotifyBundle) Disconnected(c *Conn) {
	if nb.DisconnectedF != nil {
		nb.DisconnectedF(c)
	}
}

// Event 连接事件
type Event struct {
	Conn      *Conn
	Connected bool
}

// ChanNotifiee 把事件写入 ch，ch 满时丢弃
func ChanNotifiee(ch chan<- Event) Notifiee {
	send := func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	}
	return &NotifyBundle{
		ConnectedF:    func(c *Conn) { send(Event{Conn: c, Connected: true}) },
		DisconnectedF: func(c *Conn) { send(Event{Conn: c, Connected: false}) },
	}
}

type connEvent struct {
	conn      *Conn
	connected bool
}

// Notify 注册事件接收者
func (s *Swarm) Notify(n Notifiee) {
	if n == nil {
		return
	}
	s.notifyMu.Lock()
	s.notifiees = append(s.notifiees, n)
	s.notifyMu.Unlock()
}

func (s *Swarm) emit(ev connEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Swarm) dispatchEvents() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.notifyMu.RLock()
			ns := append([]Notifiee(nil), s.notifiees...)
			s.notifyMu.RUnlock()
			for _, n := range ns {
				if ev.connected {
					n.Connected(ev.conn)
				} else {
					n.Disconnected(ev.conn)
				}
			}
		}
	}
}
