package cache

// Namespaces for cached views. A view is cached under "<namespace>:<digest>";
// per-ticket views append the ticket id to the namespace.
const (
	NamespaceCurrentAlerts  = "alerts:current"
	NamespaceAlertCount     = "alerts:count"
	NamespaceTicketList     = "tickets:list"
	NamespaceTicketDetail   = "tickets:detail"
	NamespaceTicketComments = "tickets:comments"
	NamespaceTicketAudit    = "tickets:audit"
)

// Namespaces retired by the key layout above. Entries written under them may
// still be live until their TTL runs out, so invalidation keeps purging them.
const (
	legacyCurrentAlertsPrefix = "current_alerts"
	legacyTicketListPrefix    = "ticket_list"
)

// Prefix returns the invalidation prefix of a namespace.
func Prefix(namespace string) string {
	return namespace + ":"
}

// TicketNamespace scopes a per-ticket namespace to one ticket.
func TicketNamespace(namespace, ticketID string) string {
	return namespace + ":" + ticketID
}

// AlertPrefixes covers every cached alert listing.
func AlertPrefixes() []string {
	return []string{
		Prefix(NamespaceCurrentAlerts),
		Prefix(NamespaceAlertCount),
		legacyCurrentAlertsPrefix,
	}
}

// TicketListPrefixes covers every cached ticket listing.
func TicketListPrefixes() []string {
	return []string{
		Prefix(NamespaceTicketList),
		legacyTicketListPrefix,
	}
}

// TicketPrefixes covers one ticket's cached views plus every listing that may
// include it.
func TicketPrefixes(ticketID string) []string {
	return append(TicketListPrefixes(),
		Prefix(TicketNamespace(NamespaceTicketDetail, ticketID)),
		Prefix(TicketNamespace(NamespaceTicketAudit, ticketID)),
	)
}

// CommentPrefixes covers one ticket's cached comment thread.
func CommentPrefixes(ticketID string) []string {
	return []string{Prefix(TicketNamespace(NamespaceTicketComments, ticketID))}
}
