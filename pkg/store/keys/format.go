package keys

const (
	// notation dictionary for key formats:
	// c   = conversation
	// m   = message
	// ck  = conversation tuple (buyer, seller, product)
	// u   = user
	// co  = company
	// ag  = agent link
	// p   = product
	// ob  = outbox entry
	// idx = index
	// All keys are lowercase; segments are separated by ":"
	// <...> = variable segment

	// primary records
	ConversationKey = "c:%s"         // c:<conv_id>
	MessageKey      = "c:%s:m:%s:%s" // c:<conv_id>:m:<ts>:<seq>

	// indexes
	ConversationTupleKey   = "idx:ck:%s:%s:%s"        // idx:ck:<buyer>:<seller>:<product|->
	MessageIDIndex         = "idx:m:%s"               // idx:m:<msg_id> -> message key
	PaymentIndex           = "idx:pay:%s"             // idx:pay:<payment_id> -> message key
	UserConversationKey    = "idx:u:%s:c:%s"          // idx:u:<user_id>:c:<conv_id>
	CompanyConversationKey = "idx:co:%s:c:%s"         // idx:co:<company_id>:c:<conv_id>
	UnreadKey              = "idx:unread:%s:%s:%s:%s" // idx:unread:<user_id>:<conv_id>:<ts>:<seq>

	// durable delivery outbox
	OutboxKey = "ob:%s:%s:%s" // ob:<ts>:<kind>:<id>

	// directory records
	DirUserKey    = "dir:u:%s"  // dir:u:<user_id>
	DirCompanyKey = "dir:co:%s" // dir:co:<company_id>
	DirAgentKey   = "dir:ag:%s" // dir:ag:<agent_id>
	DirProductKey = "dir:p:%s"  // dir:p:<product_id>

	// placeholder for an unscoped conversation in the tuple key
	NoProduct = "-"

	// padding widths (fixed for lexicographic ordering)
	TSPadWidth  = 20
	SeqPadWidth = 10

	SystemVersionKey = "system:version"
	SchemaVersion    = "1"
)
