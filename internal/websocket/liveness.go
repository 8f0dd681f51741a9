package websocket

// LivenessMonitor runs the ping/pong sweep. It is the only writer of a
// connection's alive and awaitingPong flags.
type LivenessMonitor struct {
	registry *Registry
}

func NewLivenessMonitor(registry *Registry) *LivenessMonitor {
	return &LivenessMonitor{registry: registry}
}

// Sweep probes every connection that answered the previous probe and
// returns the ones that did not. Callers terminate and remove those.
func (l *LivenessMonitor) Sweep() []*Connection {
	var dead []*Connection
	l.registry.ForEach(nil, func(c *Connection) {
		if !c.alive {
			dead = append(dead, c)
			return
		}
		c.alive = false
		c.awaitingPong = true
		c.peer.Probe()
	})
	return dead
}

// MarkAlive records a pong.
func (l *LivenessMonitor) MarkAlive(id string) {
	if c, ok := l.registry.Get(id); ok {
		c.alive = true
		c.awaitingPong = false
	}
}
