package keys

import "fmt"

func PadTS(ts int64) string {
	return fmt.Sprintf("%0*d", TSPadWidth, ts)
}

func PadSeq(seq uint64) string {
	return fmt.Sprintf("%0*d", SeqPadWidth, seq)
}

func GenConversationKey(convID string) string {
	return fmt.Sprintf(ConversationKey, convID)
}

func GenConversationTupleKey(buyerID, sellerID, productID string) string {
	if productID == "" {
		productID = NoProduct
	}
	return fmt.Sprintf(ConversationTupleKey, buyerID, sellerID, productID)
}

func GenMessageKey(convID string, ts int64, seq uint64) string {
	return fmt.Sprintf(MessageKey, convID, PadTS(ts), PadSeq(seq))
}

func GenMessageIDIndex(msgID string) string {
	return fmt.Sprintf(MessageIDIndex, msgID)
}

func GenPaymentIndex(paymentID string) string {
	return fmt.Sprintf(PaymentIndex, paymentID)
}

func GenUserConversationKey(userID, convID string) string {
	return fmt.Sprintf(UserConversationKey, userID, convID)
}

func GenCompanyConversationKey(companyID, convID string) string {
	return fmt.Sprintf(CompanyConversationKey, companyID, convID)
}

func GenUnreadKey(userID, convID string, ts int64, seq uint64) string {
	return fmt.Sprintf(UnreadKey, userID, convID, PadTS(ts), PadSeq(seq))
}

func GenOutboxKey(ts int64, kind, id string) string {
	return fmt.Sprintf(OutboxKey, PadTS(ts), kind, id)
}

func GenDirUserKey(id string) string    { return fmt.Sprintf(DirUserKey, id) }
func GenDirCompanyKey(id string) string { return fmt.Sprintf(DirCompanyKey, id) }
func GenDirAgentKey(id string) string   { return fmt.Sprintf(DirAgentKey, id) }
func GenDirProductKey(id string) string { return fmt.Sprintf(DirProductKey, id) }

// prefixes

func MessagePrefix(convID string) string {
	return "c:" + convID + ":m:"
}

func UserConversationsPrefix(userID string) string {
	return "idx:u:" + userID + ":c:"
}

func CompanyConversationsPrefix(companyID string) string {
	return "idx:co:" + companyID + ":c:"
}

func UnreadUserPrefix(userID string) string {
	return "idx:unread:" + userID + ":"
}

func UnreadConversationPrefix(userID, convID string) string {
	return "idx:unread:" + userID + ":" + convID + ":"
}

const OutboxPrefix = "ob:"
