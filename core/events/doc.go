// Package events defines the outbound dispatch events delivered over the
// realtime channel.
//
// Each event is a fixed-schema variant:
//   - OfferCreated: a candidate receives an offer
//   - OfferWithdrawn: an offer is no longer valid for its candidate
//   - DispatchExhausted: no eligible candidate remains
//   - DispatchAssigned and TrackingUpdated: assignment progress
//   - DispatchIncident: the assigned provider reported an incident
//   - DispatchCancelled: the request was cancelled
//   - AppointmentCancelled: a scheduled appointment was cancelled by its provider
package events
