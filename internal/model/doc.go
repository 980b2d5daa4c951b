// Package model defines the wire types exchanged on a group's real-time session.
//
// All types mirror the JSON bodies carried on the /app/* send destinations and
// the /topic/*/{groupId} subscriptions.
//
// Conventions:
//   - Coordinates: WGS84 decimal degrees (float64)
//   - Radius, accuracy: meters
//   - Speed: meters per second; heading: degrees clockwise from north
//   - Battery level: percent, 0-100
//   - IDs: opaque strings assigned by the backend
package model
