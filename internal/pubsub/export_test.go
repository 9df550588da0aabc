package pubsub

func (b *InMemoryBroker) DropSubscribers() { b.dropSubscribers() }

func (b *InMemoryBroker) Subscribers() int { return b.subscribers() }
