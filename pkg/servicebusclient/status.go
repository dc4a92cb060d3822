package servicebusclient

// ReceiverStatus is a point-in-time view of a receiving entity.
type ReceiverStatus struct {
	Entity          string `json:"entity"`
	Mode            string `json:"receive_mode"`
	ConnectionState string `json:"connection_state"`
	LinkOpen        bool   `json:"link_open"`
	PumpRunning     bool   `json:"pump_running"`
	PendingMessages int    `json:"pending_messages"`
}

// Usable reports whether the entity can still receive: its connection has
// neither failed nor been closed.
func (s ReceiverStatus) Usable() bool {
	return s.ConnectionState != factoryFailed.String() && s.ConnectionState != factoryClosed.String()
}

// State returns the connection state: unopened, opening, opened, failed or
// closed.
func (f *MessagingFactory) State() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.String()
}

// Status reports the receiver's link, pump and pending state.
func (r *MessageReceiver) Status() ReceiverStatus {
	r.mu.Lock()
	linkOpen := r.state == receiverLinkOpen
	pumpRunning := r.pump != nil
	r.mu.Unlock()

	return ReceiverStatus{
		Entity:          r.entity,
		Mode:            r.mode.String(),
		ConnectionState: r.factory.State(),
		LinkOpen:        linkOpen,
		PumpRunning:     pumpRunning,
		PendingMessages: r.PendingCount(),
	}
}

// Status reports the entity's receiver, or an idle view when nothing has
// been received yet.
func (e *entity) Status() ReceiverStatus {
	if r := e.existingReceiver(); r != nil {
		return r.Status()
	}
	return ReceiverStatus{
		Entity:          e.path,
		Mode:            e.mode.String(),
		ConnectionState: e.factory.State(),
	}
}

// Status reports the partition receiver's state.
func (r *EventHubReceiver) Status() ReceiverStatus {
	return r.receiver.Status()
}
