package flows

// Identity is the flow-local view of a resolved user.
type Identity struct {
	ID          string
	Username    string
	Email       string
	DisplayName string
}

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Issue         IssueDeps
	IssueRefresh  IssueRefreshDeps
	Validate      ValidateDeps
	Authenticate  AuthenticateDeps
	Rotate        RotateDeps
	Login         LoginDeps
	Logout        LogoutDeps
	Cleanup       CleanupDeps
	Introspection IntrospectionDeps
}
