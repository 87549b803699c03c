package asyncdelivery

// DeclareTopology declares both durable exchanges. The declarations are
// idempotent; re-declaring an existing exchange with the same attributes is a
// no-op on the broker.
func (s *Subsystem) DeclareTopology() error {
	if err := s.ch.ExchangeDeclare(MessagesExchange, "direct", true, false, false, false, nil); err != nil {
		return brokerErr("declare messages exchange", err)
	}
	if err := s.ch.ExchangeDeclare(LocationExchange, "fanout", true, false, false, false, nil); err != nil {
		return brokerErr("declare location exchange", err)
	}
	return nil
}

// ProvisionParticipant creates the participant's two durable queues and binds
// them: the messages queue to the direct exchange keyed on the participant's
// name, the location queue to the fanout exchange with no key.
func (s *Subsystem) ProvisionParticipant(name string) error {
	msgQueue := MessagesQueue(name)
	if _, err := s.ch.QueueDeclare(msgQueue, true, false, false, false, nil); err != nil {
		return brokerErr("declare messages queue", err)
	}
	if err := s.ch.QueueBind(msgQueue, name, MessagesExchange, false, nil); err != nil {
		return brokerErr("bind messages queue", err)
	}

	locQueue := LocationQueue(name)
	if _, err := s.ch.QueueDeclare(locQueue, true, false, false, false, nil); err != nil {
		return brokerErr("declare location queue", err)
	}
	if err := s.ch.QueueBind(locQueue, "", LocationExchange, false, nil); err != nil {
		return brokerErr("bind location queue", err)
	}

	s.logger.Info("provisioned async delivery queues", "participant", name)
	return nil
}

// RemoveParticipant deletes both queues. Queue lifetime tracks membership,
// not message persistence.
func (s *Subsystem) RemoveParticipant(name string) error {
	if _, err := s.ch.QueueDelete(MessagesQueue(name), false, false, false); err != nil {
		return brokerErr("delete messages queue", err)
	}
	if _, err := s.ch.QueueDelete(LocationQueue(name), false, false, false); err != nil {
		return brokerErr("delete location queue", err)
	}

	s.logger.Info("removed async delivery queues", "participant", name)
	return nil
}
