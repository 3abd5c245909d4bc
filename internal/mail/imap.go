package mail

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	gomail "github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// fetchTimeout bounds a single IMAP fetch.
const fetchTimeout = 30 * time.Second

// IMAP is a Client over a live IMAP connection. Not safe for concurrent use;
// the poller owns one connection.
type IMAP struct {
	c       *client.Client
	mailbox string
}

// DialIMAP connects over TLS, authenticates, and selects the mailbox.
func DialIMAP(addr, username, password, mailbox string) (*IMAP, error) {
	cl, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "mail: dial %s", addr)
	}
	if err := cl.Login(username, password); err != nil {
		cl.Logout() //nolint:errcheck
		return nil, eris.Wrapf(err, "mail: login %s", username)
	}
	// Read-write select so fetched messages can be marked seen.
	if _, err := cl.Select(mailbox, false); err != nil {
		cl.Logout() //nolint:errcheck
		return nil, eris.Wrapf(err, "mail: select %s", mailbox)
	}
	return &IMAP{c: cl, mailbox: mailbox}, nil
}

// ListNewMessages fetches unseen messages received since the given time and
// marks each one seen after a successful fetch. Messages whose MIME content
// cannot be parsed are still returned, with whatever metadata survived, so
// the ingestion gate can flag them rather than lose them.
func (m *IMAP) ListNewMessages(ctx context.Context, since time.Time) ([]Inbound, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if !since.IsZero() {
		criteria.Since = since
	}
	uids, err := m.c.Search(criteria)
	if err != nil {
		return nil, eris.Wrapf(err, "mail: search %s", m.mailbox)
	}

	var inbound []Inbound
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return inbound, eris.Wrap(err, "mail: list")
		}
		msg, err := m.fetch(uid)
		if err != nil {
			zap.L().Warn("fetch failed, leaving unseen", zap.Uint32("uid", uid), zap.Error(err))
			continue
		}
		in := parseInbound(msg, uid)
		if err := m.markSeen(uid); err != nil {
			zap.L().Warn("mark seen failed", zap.Uint32("uid", uid), zap.Error(err))
		}
		inbound = append(inbound, in)
	}
	return inbound, nil
}

// Close logs out from the server.
func (m *IMAP) Close() error {
	return m.c.Logout()
}

func (m *IMAP) fetch(uid uint32) (*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid}

	prev := m.c.Timeout
	m.c.Timeout = fetchTimeout
	defer func() { m.c.Timeout = prev }()

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.c.Fetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for mm := range messages {
		msg = mm
	}
	if err := <-done; err != nil {
		return nil, eris.Wrapf(err, "mail: fetch uid %d", uid)
	}
	if msg == nil {
		return nil, eris.Errorf("mail: no message for uid %d", uid)
	}
	return msg, nil
}

func (m *IMAP) markSeen(uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return m.c.Store(seqSet, item, []interface{}{imap.SeenFlag}, nil)
}

// parseInbound decodes the fetched message best-effort. Missing or broken
// headers leave fields zero; the ingestion gate flags those messages.
func parseInbound(msg *imap.Message, uid uint32) Inbound {
	in := Inbound{
		ExternalID: fmt.Sprintf("imap-uid-%d", uid),
		ReceivedAt: msg.InternalDate,
	}

	section := &imap.BodySectionName{}
	body := msg.GetBody(section)
	if body == nil {
		return in
	}
	mr, err := gomail.CreateReader(body)
	if err != nil {
		zap.L().Warn("unreadable mime message", zap.Uint32("uid", uid), zap.Error(err))
		return in
	}

	header := mr.Header
	if id, err := header.MessageID(); err == nil && id != "" {
		in.ExternalID = id
	}
	if refs, err := header.MsgIDList("In-Reply-To"); err == nil && len(refs) > 0 {
		in.ThreadID = refs[0]
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		in.Sender = from[0].Address
	}
	if subject, err := header.Subject(); err == nil {
		in.Subject = subject
	} else {
		// Fall back to the raw header when MIME word decoding fails.
		in.Subject = header.Get("Subject")
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		in.ReceivedAt = date
	}

	var htmlBody string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			zap.L().Warn("skipping unreadable mime part", zap.Uint32("uid", uid), zap.Error(err))
			break
		}
		switch h := p.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, err := h.ContentType()
			if err != nil {
				continue
			}
			data, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			switch contentType {
			case "text/plain":
				if in.Body == "" {
					in.Body = string(data)
				}
			case "text/html":
				htmlBody = string(data)
			}
		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			data, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			in.Attachments = append(in.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Data:        data,
			})
		}
	}
	// HTML-only messages keep the markup; extraction strips tags.
	if in.Body == "" {
		in.Body = htmlBody
	}
	return in
}

// DecodeHeader decodes MIME-encoded words ("=?UTF-8?B?...?=") to plain text.
func DecodeHeader(encoded string) (string, error) {
	decoded, err := new(mime.WordDecoder).DecodeHeader(encoded)
	if err != nil {
		return "", eris.Wrap(err, "mail: decode header")
	}
	return decoded, nil
}

// IsSpreadsheet reports whether an attachment looks like an Excel workbook.
func IsSpreadsheet(a Attachment) bool {
	if strings.HasSuffix(strings.ToLower(a.Filename), ".xlsx") {
		return true
	}
	return a.ContentType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
