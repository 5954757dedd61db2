package common

// UserIDHeaderName carries the acting user's id on sync API requests.
// Session issuance itself is handled outside this core.
const UserIDHeaderName = "X-Sync-User"
