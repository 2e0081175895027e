package connection

// startHeartbeat schedules the next ping for the socket identified by gen.
func (m *Manager) startHeartbeat(gen uint64) {
	m.stopHeartbeat()
	m.heartbeatTimer = m.sched.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.heartbeatTick(gen)
	})
}

func (m *Manager) stopHeartbeat() {
	stopTimer(&m.heartbeatTimer)
}

// heartbeatTick sends one ping. A missing pong does not close the link;
// the transport's close event stays the source of truth.
func (m *Manager) heartbeatTick(gen uint64) {
	m.heartbeatTimer = nil
	if gen != m.gen || m.state.Phase != PhaseConnected || !m.SocketOpen() {
		return
	}
	if err := m.send(TypePing, PingMsg{Type: TypePing, Timestamp: m.now().UnixMilli()}); err != nil {
		m.logger.Debug("heartbeat failed", "error", err)
	}
	m.startHeartbeat(gen)
}
