package automator

import "time"

// URLs and CSS selectors for the webmail surface under automation. Kept in
// one place so a UI change is a single edit.
const (
	signInURL = "https://mail.google.com/"
	inboxURL  = "https://mail.google.com/mail/u/0/#inbox"
	spamURL   = "https://mail.google.com/mail/u/0/#spam"
	searchURL = "https://mail.google.com/mail/u/0/#search/"

	selEmailInput    = `input[type="email"]`
	selEmailNext     = `#identifierNext`
	selPasswordInput = `input[type="password"]`
	selPasswordNext  = `#passwordNext`

	selInboxContainer = `div[role="main"]`
	selMessageRow     = `tr.zA`
	selUnreadRow      = `tr.zE`
	selRowSender      = `.yW span[email], .yW span`
	selRowSubject     = `.y6 span span, .y6 span`
	selRowTime        = `.xW span`
	selRowStar        = `span.T-KT`

	selMessageSubject = `h2.hP`
	selMessageSender  = `span.gD`
	selMessageBody    = `div.a3s`
	selBackToInbox    = `div[act="19"], div[aria-label="Back to Inbox"]`

	selComposeButton = `div.T-I.T-I-KE.L3`
	selToField       = `input[aria-label="To recipients"]`
	selSubjectField  = `input[name="subjectbox"]`
	selBodyField     = `div[aria-label="Message Body"]`
	selSendButton    = `div[aria-label*="Send"]`
	selReplyButton   = `span.ams.bkH`
	selReplyBody     = `div[aria-label="Message Body"]`

	selSearchInput = `input[aria-label="Search mail"]`
	selNotSpam     = `div[aria-label="Not spam"]`

	// Post-login page signals used for account-health classification.
	selChallengePage  = `form[action*="challenge"], #challengePickerList`
	selVerifyHeading  = `h1#headingText`
	selWrongPassword  = `div.o6cuMc, span.dEOOab`
	selSuspendedPage  = `div[data-accounts-disabled], form[action*="disabled"]`
	selOnboardingSkip = `button[name="ok"], div[aria-label="Close"]`
)

// defaultWaitTimeout bounds every locate-element wait so a missing signal
// converts to a failure instead of a hang.
const defaultWaitTimeout = 25 * time.Second

// maxInboxSummaries bounds the summary list returned by a check_inbox task.
const maxInboxSummaries = 10
