package repository

// ShareMemoryLedger joins the in-memory payment, ticket and concession stores under one
// mutex, the way the three tables share a transaction in Postgres. Once joined, payment
// creation checks ticket and order state and amounts, and ticket repricing and order
// edits refuse rows an open payment references. Call it before the stores are used.
func ShareMemoryLedger(
	payments *MemoryPaymentRepository,
	tickets *MemoryTicketRepository,
	concessions *MemoryConcessionRepository) {

	mu := payments.mu
	tickets.mu = mu
	concessions.mu = mu

	payments.tickets = tickets
	payments.concessions = concessions
	tickets.payments = payments
	concessions.payments = payments
}
