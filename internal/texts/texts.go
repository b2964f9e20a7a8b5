// Package texts holds every reply the bot sends to users.
package texts

import (
	"fmt"
	"strings"
)

func gb(amount int64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.9f", float64(amount)/1e9), "0"), ".")
}

func Greeting(allowProofByPayment bool, priceInBytes int64) string {
	text := "Here you can attest your GitHub username.\n\n" +
		"Your GitHub username will be linked to your Obyte address, the link can be either made public (if you choose so) or saved privately in your wallet. " +
		"In the latter case, only a proof of attestation will be posted publicly on the distributed ledger."
	if allowProofByPayment {
		text += fmt.Sprintf("\n\nThe price of attestation is %s GB. The payment is nonrefundable even if the attestation fails for any reason.", gb(priceInBytes))
	}
	return text
}

func InsertMyAddress() string {
	return "Please send me your address that you wish to attest (click ... and Insert my address).\n\n" +
		"Make sure you are in a single-address wallet. " +
		"If you don't have a single-address wallet, " +
		"please add one (burger menu, add wallet) and fund it with the amount sufficient to pay for the attestation."
}

func GoingToAttestAddress(address string) string {
	return fmt.Sprintf("Thanks, going to attest your Obyte address: %s.", address)
}

func GoingToAttestUsername(username string) string {
	return fmt.Sprintf("Going to attest GitHub username: %s", username)
}

func OtherOptions(usernames []string) string {
	options := make([]string, 0, len(usernames))
	for _, u := range usernames {
		options = append(options, fmt.Sprintf("choose %s", u))
	}
	return fmt.Sprintf("Other options: %s", strings.Join(options, ", "))
}

func PrivateOrPublic() string {
	return "Store your GitHub username privately in your wallet or post it publicly?\n\n" +
		"Reply with 'private' or 'public'."
}

func PrivateChosen() string {
	return "Your GitHub username will be kept private and stored in your wallet.\n\n" +
		"Reply 'public' now if you changed your mind."
}

func PublicChosen(username string) string {
	return "Your GitHub username " + username + " will be posted into the public database and will be visible to everyone. You cannot remove it later.\n\n" +
		"Reply 'private' now if you changed your mind."
}

func PleasePay(receivingAddress string, priceInBytes int64, userAddress string, challenge string, allowProofByPayment bool) string {
	if allowProofByPayment {
		return fmt.Sprintf("Please pay for the attestation: obyte:%s?amount=%d&single_address=single%s\n\n"+
			"Alternatively, you can prove ownership of your address by signing this message in your wallet: %s",
			receivingAddress, priceInBytes, userAddress, challenge)
	}
	return fmt.Sprintf("Please prove ownership of your address by signing this message in your wallet: %s", challenge)
}

func PleasePayOrPrivacy(receivingAddress string, priceInBytes int64, userAddress string, challenge string, postPublicly *bool, allowProofByPayment bool) string {
	if postPublicly == nil {
		return PrivateOrPublic()
	}
	return PleasePay(receivingAddress, priceInBytes, userAddress, challenge, allowProofByPayment)
}

func ReceivedAndAcceptedYourPayment(amount int64) string {
	return fmt.Sprintf("Received your payment of %s GB.", gb(amount))
}

func ReceivedYourPayment(amount int64) string {
	return fmt.Sprintf("Received your payment of %s GB, waiting for confirmation. It should take 5-15 minutes.", gb(amount))
}

func PaymentIsConfirmed() string {
	return "Your payment is confirmed."
}

func UnderpaidAmount(received, expected int64) string {
	return fmt.Sprintf("Received %d Bytes from you, which is less than the expected %d Bytes.", received, expected)
}

func SwitchToSingleAddress() string {
	return "Make sure you are in a single-address wallet, otherwise switch to a single-address wallet or create one and send me your address before paying."
}

func AlreadyAttested(attestationDate string) string {
	return fmt.Sprintf("You were already attested at %s UTC. Reply 'again' to attest again.", attestationDate)
}

func ProveUsername(link string) string {
	return "To let us know your GitHub username and to prove it, please follow this link " + link + "\nand log into your GitHub account, then return to this chat."
}

func GotYourUsername() string {
	return "Got your username."
}

func CloseThisWindow() string {
	return "Now you can close this window and get back to the chat in the wallet."
}

func FailedAuthentication() string {
	return "Failed to get your GitHub profile."
}

func ReturnChatInsertAddressAgain() string {
	return "Please return to chat, insert your address, and try again."
}

func InvalidSessionParams() string {
	return "no code or no state"
}

func ExpiredSessionParams() string {
	return "Invalid or expired authentication session."
}

func Attested(explorerURL, unit string) string {
	return "Now your GitHub username is attested, see the attestation unit: " + explorerURL + unit
}

func PrivateProfileHandoff(blob string) string {
	return "Save this private profile in your wallet: profile:" + blob + ". " +
		"You will be able to use it to access the services that require a proven GitHub username. " +
		"It is not stored on our side, so save it now."
}
