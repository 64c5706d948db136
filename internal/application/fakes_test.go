package application

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/domain/port/driven"
)

func platformErr(platform model.Platform, kind driven.ErrorKind, status int, msg string) error {
	return &driven.PlatformError{
		Platform:   platform,
		StatusCode: status,
		Kind:       kind,
		Message:    msg,
	}
}

func notFoundErr(platform model.Platform) error {
	return platformErr(platform, driven.KindNotFound, http.StatusNotFound, "not found")
}

func unauthorizedErr(platform model.Platform) error {
	return platformErr(platform, driven.KindUnauthorized, http.StatusUnauthorized, "bad credentials")
}

// memVault is an in-memory CredentialVault.
type memVault struct {
	mu       sync.Mutex
	nextID   int64
	creds    map[string][]model.Credential // email|platform, newest first
	touched  []int64
	inactive []int64
}

func newMemVault() *memVault {
	return &memVault{creds: make(map[string][]model.Credential)}
}

func vaultKey(email string, platform model.Platform) string {
	return model.NormalizeEmail(email) + "|" + string(platform)
}

func (v *memVault) Store(_ context.Context, email, _ string, platform model.Platform, secret string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	key := vaultKey(email, platform)
	cred := model.Credential{
		ID: v.nextID, Email: model.NormalizeEmail(email), Platform: platform,
		Secret: secret, CreatedAt: time.Now(), IsActive: true,
	}
	v.creds[key] = append([]model.Credential{cred}, v.creds[key]...)
	return nil
}

func (v *memVault) MostRecent(ctx context.Context, email string, platform model.Platform) (model.Credential, error) {
	creds, err := v.AllActive(ctx, email, platform)
	if err != nil {
		return model.Credential{}, err
	}
	return creds[0], nil
}

func (v *memVault) AllActive(_ context.Context, email string, platform model.Platform) ([]model.Credential, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var active []model.Credential
	for _, c := range v.creds[vaultKey(email, platform)] {
		if c.IsActive {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		return nil, driven.ErrNoCredential
	}
	return active, nil
}

func (v *memVault) MarkInactive(_ context.Context, id int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inactive = append(v.inactive, id)
	for key, creds := range v.creds {
		for i := range creds {
			if creds[i].ID == id {
				creds[i].IsActive = false
			}
		}
		v.creds[key] = creds
	}
	return nil
}

func (v *memVault) TouchLastUsed(_ context.Context, id int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touched = append(v.touched, id)
	return nil
}

// memLedger implements both SessionStore and ResourceStore in memory.
type memLedger struct {
	mu        sync.Mutex
	sessions  map[string]model.Session
	resources map[string]model.Resource
}

func newMemLedger() *memLedger {
	return &memLedger{
		sessions:  make(map[string]model.Session),
		resources: make(map[string]model.Resource),
	}
}

func (l *memLedger) Create(_ context.Context, session model.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	session.CreatedAt = time.Now()
	l.sessions[session.ID] = session
	return nil
}

func (l *memLedger) Get(_ context.Context, id string) (*model.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[id]
	if !ok {
		return nil, driven.ErrSessionNotFound
	}
	return &s, nil
}

func (l *memLedger) ListByUser(_ context.Context, email string) ([]model.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Session
	for _, s := range l.sessions {
		if s.Email == model.NormalizeEmail(email) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (l *memLedger) FinalizeDeleted(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, s := range l.sessions {
		if s.Status != model.SessionStatusActive {
			continue
		}
		var total, blocking int
		for _, r := range l.resources {
			if r.SessionID != id {
				continue
			}
			total++
			if r.Status == model.ResourceStatusActive || r.Status == model.ResourceStatusDeletePending {
				blocking++
			}
		}
		if total > 0 && blocking == 0 {
			s.Status = model.SessionStatusDeleted
			l.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (l *memLedger) Register(_ context.Context, resource model.Resource) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	resource.CreatedAt = time.Now()
	l.resources[resource.ID] = resource
	return nil
}

func (l *memLedger) ListBySession(_ context.Context, sessionID string) ([]model.Resource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Resource
	for _, r := range l.resources {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *memLedger) MarkExpired(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, r := range l.resources {
		s, ok := l.sessions[r.SessionID]
		if !ok || s.ExpiresAt == nil || s.ExpiresAt.After(now) {
			continue
		}
		if r.Status == model.ResourceStatusActive || r.Status == model.ResourceStatusFailed {
			r.Status = model.ResourceStatusDeletePending
			l.resources[id] = r
			n++
		}
	}
	return n, nil
}

func (l *memLedger) ListDeletePending(_ context.Context) ([]model.PendingResource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.PendingResource
	for _, r := range l.resources {
		if r.Status == model.ResourceStatusDeletePending {
			out = append(out, model.PendingResource{Resource: r, OwnerEmail: l.sessions[r.SessionID].Email})
		}
	}
	return out, nil
}

func (l *memLedger) SetStatus(_ context.Context, id string, status model.ResourceStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.resources[id]
	if !ok {
		return driven.ErrResourceNotFound
	}
	r.Status = status
	l.resources[id] = r
	return nil
}

// statusOf is a test convenience.
func (l *memLedger) statusOf(id string) model.ResourceStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resources[id].Status
}

// fakeSource is an in-memory SourceHostClient.
type fakeSource struct {
	mu            sync.Mutex
	repos         map[string]model.RepoRef           // owner/name -> ref
	files         map[string]map[string]model.RepoFile // owner/name -> path -> file
	collaborators map[string][]string                // owner/name -> usernames
	deletedRepos  []string
	puts          []string // "owner/name:path" in call order
	createErr     error    // forced CreateFromTemplate failure
	deleteErr     error    // forced DeleteRepo failure
	revision      int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		repos:         make(map[string]model.RepoRef),
		files:         make(map[string]map[string]model.RepoFile),
		collaborators: make(map[string][]string),
	}
}

func (f *fakeSource) addRepo(owner, name string) model.RepoRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := model.RepoRef{
		Name:     name,
		FullName: owner + "/" + name,
		URL:      "https://forge.example.com/" + owner + "/" + name,
	}
	f.repos[ref.FullName] = ref
	if f.files[ref.FullName] == nil {
		f.files[ref.FullName] = make(map[string]model.RepoFile)
	}
	return ref
}

func (f *fakeSource) setFile(fullName, path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revision++
	if f.files[fullName] == nil {
		f.files[fullName] = make(map[string]model.RepoFile)
	}
	f.files[fullName][path] = model.RepoFile{
		Path: path, Content: content, Revision: fmt.Sprintf("rev-%d", f.revision),
	}
}

func (f *fakeSource) GetRepo(_ context.Context, owner, name string) (*model.RepoRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.repos[owner+"/"+name]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

func (f *fakeSource) CreateFromTemplate(_ context.Context, _, _, owner, name string) (*model.RepoRef, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	ref := f.addRepo(owner, name)
	return &ref, nil
}

func (f *fakeSource) GetFile(_ context.Context, owner, repo, path string) (*model.RepoFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[owner+"/"+repo][path]
	if !ok {
		return nil, notFoundErr(model.PlatformSourceForge)
	}
	return &file, nil
}

func (f *fakeSource) PutFile(_ context.Context, owner, repo, path, content, revision string) error {
	f.mu.Lock()
	full := owner + "/" + repo
	current, exists := f.files[full][path]
	if exists && current.Revision != revision {
		f.mu.Unlock()
		return platformErr(model.PlatformSourceForge, driven.KindConcurrentModification,
			http.StatusConflict, "revision mismatch")
	}
	f.puts = append(f.puts, full+":"+path)
	f.mu.Unlock()
	f.setFile(full, path, content)
	return nil
}

func (f *fakeSource) DeleteFile(_ context.Context, owner, repo, path, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files[owner+"/"+repo], path)
	return nil
}

func (f *fakeSource) IsCollaborator(_ context.Context, owner, repo, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.collaborators[owner+"/"+repo] {
		if u == username {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSource) InviteCollaborator(_ context.Context, owner, repo, username, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	full := owner + "/" + repo
	f.collaborators[full] = append(f.collaborators[full], username)
	return true, nil
}

func (f *fakeSource) DeleteRepo(_ context.Context, fullName string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[fullName]; !ok {
		return notFoundErr(model.PlatformSourceForge)
	}
	delete(f.repos, fullName)
	f.deletedRepos = append(f.deletedRepos, fullName)
	return nil
}

// flagState records one SetFlagState call.
type flagState struct {
	FlagKey       string
	EnvironmentID string
	ApplicationID string
	Enabled       bool
}

// fakeCI is an in-memory CIPlatformClient. The zero value of the error fields
// means success; tests inject failures per call site.
type fakeCI struct {
	mu           sync.Mutex
	org          model.Organization
	repositories []model.CIRepository
	components   map[string]model.Component
	environments map[string]model.Environment
	applications map[string]model.Application
	flags        map[string]model.Flag
	secrets      map[string]string // envID/name -> value
	tokens       []string
	flagStates   []flagState
	deleted      []string // "kind:id"
	nextID       int

	createComponentErr   error
	createEnvironmentErr error
	secretErr            error
	deleteErr            error
}

func newFakeCI() *fakeCI {
	return &fakeCI{
		org:          model.Organization{ID: "org-1", Name: "acme"},
		components:   make(map[string]model.Component),
		environments: make(map[string]model.Environment),
		applications: make(map[string]model.Application),
		flags:        make(map[string]model.Flag),
		secrets:      make(map[string]string),
	}
}

func (f *fakeCI) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeCI) observeRepo(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repositories = append(f.repositories, model.CIRepository{URL: url})
}

func (f *fakeCI) GetOrganization(_ context.Context) (*model.Organization, error) {
	org := f.org
	return &org, nil
}

func (f *fakeCI) ListRepositories(_ context.Context) ([]model.CIRepository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CIRepository(nil), f.repositories...), nil
}

func (f *fakeCI) ListComponents(_ context.Context) ([]model.Component, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Component
	for _, c := range f.components {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCI) CreateComponent(_ context.Context, name, repoURL string) (*model.Component, error) {
	if f.createComponentErr != nil {
		return nil, f.createComponentErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	comp := model.Component{ID: f.id("comp"), Name: name, RepoURL: repoURL}
	f.components[comp.ID] = comp
	return &comp, nil
}

func (f *fakeCI) DeleteComponent(_ context.Context, _, componentID string) error {
	return f.deleteByID("component", componentID)
}

func (f *fakeCI) ListEnvironments(_ context.Context) ([]model.Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Environment
	for _, e := range f.environments {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeCI) CreateEnvironment(_ context.Context, name string, production bool) (*model.Environment, error) {
	if f.createEnvironmentErr != nil {
		return nil, f.createEnvironmentErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	env := model.Environment{ID: f.id("env"), Name: name, Production: production}
	f.environments[env.ID] = env
	return &env, nil
}

func (f *fakeCI) DeleteEnvironment(_ context.Context, _, environmentID string) error {
	return f.deleteByID("environment", environmentID)
}

func (f *fakeCI) CreateEnvironmentSecret(_ context.Context, environmentID, name, value string) error {
	if f.secretErr != nil {
		return f.secretErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[environmentID+"/"+name] = value
	return nil
}

func (f *fakeCI) CreateEnvironmentToken(_ context.Context, environmentID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, environmentID+"/"+name)
	return nil
}

func (f *fakeCI) ListApplications(_ context.Context) ([]model.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Application
	for _, a := range f.applications {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeCI) CreateApplication(_ context.Context, name string, _, _ []string) (*model.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app := model.Application{ID: f.id("app"), Name: name}
	f.applications[app.ID] = app
	return &app, nil
}

func (f *fakeCI) DeleteApplication(_ context.Context, _, applicationID string) error {
	return f.deleteByID("application", applicationID)
}

func (f *fakeCI) ListFlags(_ context.Context) ([]model.Flag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Flag
	for _, fl := range f.flags {
		out = append(out, fl)
	}
	return out, nil
}

func (f *fakeCI) CreateFlag(_ context.Context, key, name string) (*model.Flag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	flag := model.Flag{Key: key, Name: name}
	f.flags[key] = flag
	return &flag, nil
}

func (f *fakeCI) DeleteFlag(_ context.Context, _, flagKey string) error {
	return f.deleteByID("flag", flagKey)
}

func (f *fakeCI) SetFlagState(_ context.Context, flagKey, environmentID, applicationID string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagStates = append(f.flagStates, flagState{flagKey, environmentID, applicationID, enabled})
	return nil
}

func (f *fakeCI) deleteByID(kind, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch kind {
	case "component":
		if _, ok := f.components[id]; !ok {
			return notFoundErr(model.PlatformCI)
		}
		delete(f.components, id)
	case "environment":
		if _, ok := f.environments[id]; !ok {
			return notFoundErr(model.PlatformCI)
		}
		delete(f.environments, id)
	case "application":
		if _, ok := f.applications[id]; !ok {
			return notFoundErr(model.PlatformCI)
		}
		delete(f.applications, id)
	case "flag":
		if _, ok := f.flags[id]; !ok {
			return notFoundErr(model.PlatformCI)
		}
		delete(f.flags, id)
	}
	f.deleted = append(f.deleted, kind+":"+id)
	return nil
}

// staticFactories returns factories that ignore the token and hand back the
// shared fakes.
func staticFactories(source driven.SourceHostClient, ci driven.CIPlatformClient) (driven.SourceHostFactory, driven.CIPlatformFactory) {
	return func(string) driven.SourceHostClient { return source },
		func(string) driven.CIPlatformClient { return ci }
}

// tokenGatedSource rejects every call unless the client was built with the
// accepted token. Used to exercise credential fallback.
type tokenGatedSource struct {
	*fakeSource
	token    string
	accepted string
}

func (s *tokenGatedSource) DeleteRepo(ctx context.Context, fullName string) error {
	if s.token != s.accepted {
		return unauthorizedErr(model.PlatformSourceForge)
	}
	return s.fakeSource.DeleteRepo(ctx, fullName)
}
