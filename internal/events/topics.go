package events

// Topic constants for domain events emitted by the register.
const (
	TopicBillOpened    = "bill.opened"
	TopicBillSubmitted = "bill.submitted"
	TopicBillDuplicate = "bill.duplicate"
)

// DefaultTopics returns the canonical list of register topics.
func DefaultTopics() []string {
	return []string{
		TopicBillOpened,
		TopicBillSubmitted,
		TopicBillDuplicate,
	}
}
