package notifier

import (
	"fmt"

	"github.com/openbuilders/pix-bridge/internal/types"
)

func terminalText(tx *types.Transaction) string {
	switch tx.Status {
	case types.StatusPaid:
		text := fmt.Sprintf("✅ Payment confirmed! %s DePix were sent to your wallet.",
			tx.ExpectedPayoutAmount.StringFixed(2))
		if tx.SettlementReference != "" {
			text += "\nTransaction: " + tx.SettlementReference
		}
		return text
	case types.StatusExpired:
		return fmt.Sprintf("⌛ The Pix code for R$ %s expired. Start a new deposit to try again.",
			tx.RequestedAmount.StringFixed(2))
	default:
		return fmt.Sprintf("❌ Your payment of R$ %s could not be completed. No funds were moved.",
			tx.RequestedAmount.StringFixed(2))
	}
}

func reminderText(tx *types.Transaction) string {
	return fmt.Sprintf("⏳ Still waiting for your Pix of R$ %s. The QR code above is valid for a few more minutes.",
		tx.RequestedAmount.StringFixed(2))
}

const followUpText = "Thanks for using the bridge! Questions or feedback? Reply here and support will get back to you."
