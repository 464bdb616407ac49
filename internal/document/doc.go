// Package document renders a drafted legal claim as the outbound chat
// message, as Markdown for archival, and as HTML for the dashboard
// preview and email delivery.
package document
