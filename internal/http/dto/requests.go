package dto

type GenerateQRRequest struct {
	Sum  float64 `json:"sum"`
	Note string  `json:"note"`
}

type MarkReadRequest struct {
	IDs []string `json:"ids"`
}

type CreateNotificationRequest struct {
	Recipient string `json:"recipient"`
	OrderID   string `json:"orderId,omitempty"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

type PaymentWebhookRequest struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	ProviderRef   string `json:"providerRef,omitempty"`
}
