// Package event defines the normalized envelope relayed from the provider
// webhook to live clients, tagged by "type" (incoming_message, status_update).
package event
