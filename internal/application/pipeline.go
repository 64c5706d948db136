package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/domain/port/driven"
	"github.com/demoforge/demoforge/internal/retry"
)

// PipelineConfig carries the knobs one pipeline invocation runs under.
type PipelineConfig struct {
	// RepoOwner is the source-forge organization that owns created repositories.
	RepoOwner string
	// DefaultExpiryDays applies when the scenario does not set its own expiry.
	DefaultExpiryDays int
	Retry             retry.Options
	Poll              retry.PollConfig
}

// Pipeline executes the ordered, idempotent provisioning sequence for one
// scenario invocation. Each invocation owns its own in-memory maps; many
// pipelines may run concurrently without shared mutable state.
type Pipeline struct {
	vault         driven.CredentialVault
	sessions      driven.SessionStore
	resources     driven.ResourceStore
	sourceFactory driven.SourceHostFactory
	ciFactory     driven.CIPlatformFactory
	cfg           PipelineConfig
	validate      *validator.Validate
}

// NewPipeline creates a Pipeline with all required dependencies.
func NewPipeline(
	vault driven.CredentialVault,
	sessions driven.SessionStore,
	resources driven.ResourceStore,
	sourceFactory driven.SourceHostFactory,
	ciFactory driven.CIPlatformFactory,
	cfg PipelineConfig,
) *Pipeline {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultOptions
	}
	if cfg.Poll.Timeout == 0 {
		cfg.Poll = retry.DefaultPollConfig
	}
	if cfg.DefaultExpiryDays == 0 {
		cfg.DefaultExpiryDays = 2
	}

	return &Pipeline{
		vault:         vault,
		sessions:      sessions,
		resources:     resources,
		sourceFactory: sourceFactory,
		ciFactory:     ciFactory,
		cfg:           cfg,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// StepCounts summarizes one step: resources newly created vs adopted.
type StepCounts struct {
	Created int
	Adopted int
}

// ProvisionResult summarizes one pipeline invocation.
type ProvisionResult struct {
	SessionID       string
	Repositories    StepCounts
	Components      StepCounts
	Environments    StepCounts
	Applications    StepCounts
	Flags           StepCounts
	FlagsConfigured int
	SecretFailures  int
}

// pipelineRun is the transient per-invocation state linking steps together.
type pipelineRun struct {
	session  model.Session
	scenario model.Scenario
	source   driven.SourceHostClient
	ci       driven.CIPlatformClient
	org      *model.Organization
	repoRefs map[string]model.RepoRef // spec repo name -> adopted/created ref
	compIDs  map[string]string        // component name -> platform id
	envIDs   map[string]string        // environment name -> platform id
	appIDs   map[string]string        // application name -> platform id
	flagDefs []flagDefinition
	result   *ProvisionResult
}

// flagDefinition holds a flag between its definition step and the final
// configuration step. Defining one makes no external call; creation and
// per-environment configuration need application ids that exist only after
// application creation.
type flagDefinition struct {
	key          string
	name         string
	shared       bool
	initialState bool
}

// Provision runs the full creation sequence for one scenario on behalf of
// the user. Steps execute strictly in order; every step adopts resources
// that already exist, so re-invoking after a failure is safe and functions
// as the manual retry mechanism. Already-created resources are never rolled
// back on failure; they stay in the ledger for later cleanup.
func (p *Pipeline) Provision(ctx context.Context, email string, scenario model.Scenario) (*ProvisionResult, error) {
	email = model.NormalizeEmail(email)

	if err := p.validateScenario(scenario); err != nil {
		return nil, err
	}

	sourceCred, err := p.vault.MostRecent(ctx, email, model.PlatformSourceForge)
	if err != nil {
		return nil, fmt.Errorf("resolve source-forge credential for %s: %w", email, err)
	}
	ciCred, err := p.vault.MostRecent(ctx, email, model.PlatformCI)
	if err != nil {
		return nil, fmt.Errorf("resolve ci-platform credential for %s: %w", email, err)
	}
	p.touch(ctx, sourceCred.ID)
	p.touch(ctx, ciCred.ID)

	var expiresAt *time.Time
	if !scenario.NeverExpires {
		days := scenario.ExpiresIn
		if days == 0 {
			days = p.cfg.DefaultExpiryDays
		}
		t := time.Now().UTC().AddDate(0, 0, days)
		expiresAt = &t
	}

	session := model.NewSession(email, scenario.ID, expiresAt, scenario.Parameters)
	if err := p.sessions.Create(ctx, session); err != nil {
		return nil, &PipelineError{Step: "session", ScenarioID: scenario.ID, Err: err}
	}

	run := &pipelineRun{
		session:  session,
		scenario: scenario,
		source:   p.sourceFactory(sourceCred.Secret),
		ci:       p.ciFactory(ciCred.Secret),
		repoRefs: make(map[string]model.RepoRef),
		compIDs:  make(map[string]string),
		envIDs:   make(map[string]string),
		appIDs:   make(map[string]string),
		result:   &ProvisionResult{SessionID: session.ID},
	}

	steps := []struct {
		name string
		fn   func(context.Context, *pipelineRun) error
	}{
		{"repositories", p.stepRepositories},
		{"convergence", p.stepConvergence},
		{"components", p.stepComponents},
		{"flags", p.stepFlagDefinitions},
		{"environments", p.stepEnvironments},
		{"applications", p.stepApplications},
		{"environment-secrets", p.stepSecrets},
		{"flag-configuration", p.stepFlags},
	}

	start := time.Now()
	for _, step := range steps {
		slog.Info("pipeline step starting",
			"step", step.name, "scenario", scenario.ID, "session", session.ID)
		if err := step.fn(ctx, run); err != nil {
			slog.Error("pipeline step failed",
				"step", step.name, "scenario", scenario.ID, "session", session.ID, "error", err)
			return nil, &PipelineError{Step: step.name, ScenarioID: scenario.ID, Err: err}
		}
	}

	slog.Info("pipeline complete",
		"scenario", scenario.ID,
		"session", session.ID,
		"repos_created", run.result.Repositories.Created,
		"repos_adopted", run.result.Repositories.Adopted,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return run.result, nil
}

// validateScenario enforces struct tags plus the cross-references the tags
// cannot express: applications may only link declared components and
// environments, and names must be unique within their step.
func (p *Pipeline) validateScenario(scenario model.Scenario) error {
	if err := p.validate.Struct(scenario); err != nil {
		return &ValidationError{ScenarioID: scenario.ID, Err: err}
	}

	repoNames := make(map[string]bool, len(scenario.Repositories))
	compNames := make(map[string]bool)
	for _, rs := range scenario.Repositories {
		if repoNames[rs.Name] {
			return &ValidationError{ScenarioID: scenario.ID, Err: fmt.Errorf("duplicate repository name %q", rs.Name)}
		}
		repoNames[rs.Name] = true
		if rs.CreateComponent {
			compNames[rs.Name] = true
		}
	}

	envNames := make(map[string]bool, len(scenario.Environments))
	for _, es := range scenario.Environments {
		if envNames[es.Name] {
			return &ValidationError{ScenarioID: scenario.ID, Err: fmt.Errorf("duplicate environment name %q", es.Name)}
		}
		envNames[es.Name] = true
	}

	appNames := make(map[string]bool, len(scenario.Applications))
	for _, as := range scenario.Applications {
		if appNames[as.Name] {
			return &ValidationError{ScenarioID: scenario.ID, Err: fmt.Errorf("duplicate application name %q", as.Name)}
		}
		appNames[as.Name] = true
		for _, comp := range as.Components {
			if !compNames[comp] {
				return &ValidationError{ScenarioID: scenario.ID,
					Err: fmt.Errorf("application %q links unknown component %q", as.Name, comp)}
			}
		}
		for _, env := range as.Environments {
			if !envNames[env] {
				return &ValidationError{ScenarioID: scenario.ID,
					Err: fmt.Errorf("application %q links unknown environment %q", as.Name, env)}
			}
		}
	}

	flagKeys := make(map[string]bool, len(scenario.Flags))
	for _, fs := range scenario.Flags {
		if flagKeys[fs.Key] {
			return &ValidationError{ScenarioID: scenario.ID, Err: fmt.Errorf("duplicate flag key %q", fs.Key)}
		}
		flagKeys[fs.Key] = true
	}

	return nil
}

// stepRepositories creates or adopts every repository, then applies file
// replacements, conditional moves, and collaborator invitations on both
// paths — an adopted repository gets the same content fixups as a fresh one.
func (p *Pipeline) stepRepositories(ctx context.Context, run *pipelineRun) error {
	for _, rs := range run.scenario.Repositories {
		ref, err := run.source.GetRepo(ctx, p.cfg.RepoOwner, rs.Name)
		if err != nil {
			return err
		}

		adopted := ref != nil
		if !adopted {
			ref, err = run.source.CreateFromTemplate(ctx, rs.TemplateOwner, rs.TemplateRepo, p.cfg.RepoOwner, rs.Name)
			if err != nil {
				createErr := err
				// Lost a creation race: someone registered the name between
				// our existence check and the create call. Adopt theirs.
				if driven.KindOf(createErr) == driven.KindAlreadyExists {
					ref, err = run.source.GetRepo(ctx, p.cfg.RepoOwner, rs.Name)
					if err == nil && ref != nil {
						adopted = true
					}
				}
				if ref == nil {
					return fmt.Errorf("create repository %s: %w", rs.Name, createErr)
				}
			}
		}

		run.repoRefs[rs.Name] = *ref
		if adopted {
			run.result.Repositories.Adopted++
			slog.Info("repository adopted", "repo", ref.FullName, "session", run.session.ID)
		} else {
			run.result.Repositories.Created++
			slog.Info("repository created", "repo", ref.FullName, "session", run.session.ID)
		}

		res := model.NewResource(run.session.ID, model.ResourceKindRepository,
			model.PlatformSourceForge, ref.FullName, rs.Name, nil)
		if err := p.resources.Register(ctx, res); err != nil {
			return err
		}

		if err := p.applyReplacements(ctx, run, rs); err != nil {
			return err
		}
		if err := p.applyMoves(ctx, run, rs); err != nil {
			return err
		}
		if err := p.inviteCollaborators(ctx, run, rs); err != nil {
			return err
		}
	}
	return nil
}

// applyReplacements overwrites file contents, skipping files that already
// hold the target content to avoid spurious commits on re-runs.
func (p *Pipeline) applyReplacements(ctx context.Context, run *pipelineRun, rs model.RepositorySpec) error {
	for _, repl := range rs.Replacements {
		file, err := run.source.GetFile(ctx, p.cfg.RepoOwner, rs.Name, repl.Path)
		if err != nil {
			if driven.IsNotFound(err) {
				if err := run.source.PutFile(ctx, p.cfg.RepoOwner, rs.Name, repl.Path, repl.Content, ""); err != nil {
					return err
				}
				continue
			}
			return err
		}

		if file.Content == repl.Content {
			slog.Debug("file content unchanged, skipping",
				"repo", rs.Name, "path", repl.Path, "session", run.session.ID)
			continue
		}

		if err := run.source.PutFile(ctx, p.cfg.RepoOwner, rs.Name, repl.Path, repl.Content, file.Revision); err != nil {
			return err
		}
	}
	return nil
}

// applyMoves copies each source file to its new path and deletes the
// original. A missing source path means the move already happened (or never
// applied to this template) and is skipped.
func (p *Pipeline) applyMoves(ctx context.Context, run *pipelineRun, rs model.RepositorySpec) error {
	for _, mv := range rs.Moves {
		src, err := run.source.GetFile(ctx, p.cfg.RepoOwner, rs.Name, mv.FromPath)
		if err != nil {
			if driven.IsNotFound(err) {
				slog.Debug("move source absent, skipping",
					"repo", rs.Name, "from", mv.FromPath, "session", run.session.ID)
				continue
			}
			return err
		}

		revision := ""
		if dst, err := run.source.GetFile(ctx, p.cfg.RepoOwner, rs.Name, mv.ToPath); err == nil {
			revision = dst.Revision
		} else if !driven.IsNotFound(err) {
			return err
		}

		if err := run.source.PutFile(ctx, p.cfg.RepoOwner, rs.Name, mv.ToPath, src.Content, revision); err != nil {
			return err
		}
		if err := run.source.DeleteFile(ctx, p.cfg.RepoOwner, rs.Name, mv.FromPath, src.Revision); err != nil {
			return err
		}
	}
	return nil
}

// inviteCollaborators is checked-then-applied: existing collaborators are
// not re-invited.
func (p *Pipeline) inviteCollaborators(ctx context.Context, run *pipelineRun, rs model.RepositorySpec) error {
	for _, collab := range rs.Collaborators {
		already, err := run.source.IsCollaborator(ctx, p.cfg.RepoOwner, rs.Name, collab.Username)
		if err != nil {
			return err
		}
		if already {
			continue
		}

		invited, err := run.source.InviteCollaborator(ctx, p.cfg.RepoOwner, rs.Name, collab.Username, collab.Role)
		if err != nil {
			return err
		}
		slog.Info("collaborator invitation",
			"repo", rs.Name, "user", collab.Username, "role", collab.Role,
			"invited", invited, "session", run.session.ID)
	}
	return nil
}

// stepConvergence blocks until the ci-platform observes every repository
// that component creation will reference.
func (p *Pipeline) stepConvergence(ctx context.Context, run *pipelineRun) error {
	var targets []string
	for _, rs := range run.scenario.Repositories {
		if rs.CreateComponent {
			targets = append(targets, run.repoRefs[rs.Name].URL)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	return retry.AwaitRepositories(ctx, run.ci, targets, p.cfg.Poll)
}

// ensureOrg resolves the ci-platform organization once per run; its id is
// stamped into resource metadata because deletions require it.
func (p *Pipeline) ensureOrg(ctx context.Context, run *pipelineRun) error {
	if run.org != nil {
		return nil
	}
	org, err := run.ci.GetOrganization(ctx)
	if err != nil {
		return err
	}
	run.org = org
	return nil
}

func (p *Pipeline) stepComponents(ctx context.Context, run *pipelineRun) error {
	var specs []model.RepositorySpec
	for _, rs := range run.scenario.Repositories {
		if rs.CreateComponent {
			specs = append(specs, rs)
		}
	}
	if len(specs) == 0 {
		return nil
	}

	if err := p.ensureOrg(ctx, run); err != nil {
		return err
	}

	existing, err := run.ci.ListComponents(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]model.Component, len(existing))
	for _, comp := range existing {
		byName[comp.Name] = comp
	}

	for _, rs := range specs {
		comp, ok := byName[rs.Name]
		if ok {
			run.result.Components.Adopted++
		} else {
			repoURL := run.repoRefs[rs.Name].URL
			err := retry.Do(ctx, "create component "+rs.Name, func() error {
				created, err := run.ci.CreateComponent(ctx, rs.Name, repoURL)
				if err != nil {
					return err
				}
				comp = *created
				return nil
			}, driven.IsRetryable, p.cfg.Retry)
			if err != nil {
				return err
			}
			run.result.Components.Created++
		}
		run.compIDs[rs.Name] = comp.ID

		res := model.NewResource(run.session.ID, model.ResourceKindComponent,
			model.PlatformCI, comp.ID, rs.Name, map[string]string{metaOrgID: run.org.ID})
		if err := p.resources.Register(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) stepEnvironments(ctx context.Context, run *pipelineRun) error {
	if len(run.scenario.Environments) == 0 {
		return nil
	}

	if err := p.ensureOrg(ctx, run); err != nil {
		return err
	}

	existing, err := run.ci.ListEnvironments(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]model.Environment, len(existing))
	for _, env := range existing {
		byName[env.Name] = env
	}

	for _, es := range run.scenario.Environments {
		env, ok := byName[es.Name]
		if ok {
			run.result.Environments.Adopted++
		} else {
			err := retry.Do(ctx, "create environment "+es.Name, func() error {
				created, err := run.ci.CreateEnvironment(ctx, es.Name, es.Production)
				if err != nil {
					return err
				}
				env = *created
				return nil
			}, driven.IsRetryable, p.cfg.Retry)
			if err != nil {
				return err
			}
			run.result.Environments.Created++
		}
		run.envIDs[es.Name] = env.ID

		res := model.NewResource(run.session.ID, model.ResourceKindEnvironment,
			model.PlatformCI, env.ID, es.Name, map[string]string{metaOrgID: run.org.ID})
		if err := p.resources.Register(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) stepApplications(ctx context.Context, run *pipelineRun) error {
	if len(run.scenario.Applications) == 0 {
		return nil
	}

	if err := p.ensureOrg(ctx, run); err != nil {
		return err
	}

	existing, err := run.ci.ListApplications(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]model.Application, len(existing))
	for _, app := range existing {
		byName[app.Name] = app
	}

	for _, as := range run.scenario.Applications {
		app, ok := byName[as.Name]
		if ok {
			run.result.Applications.Adopted++
		} else {
			componentIDs := make([]string, 0, len(as.Components))
			for _, name := range as.Components {
				componentIDs = append(componentIDs, run.compIDs[name])
			}
			environmentIDs := make([]string, 0, len(as.Environments))
			for _, name := range as.Environments {
				environmentIDs = append(environmentIDs, run.envIDs[name])
			}

			err := retry.Do(ctx, "create application "+as.Name, func() error {
				created, err := run.ci.CreateApplication(ctx, as.Name, componentIDs, environmentIDs)
				if err != nil {
					return err
				}
				app = *created
				return nil
			}, driven.IsRetryable, p.cfg.Retry)
			if err != nil {
				return err
			}
			run.result.Applications.Created++
		}
		run.appIDs[as.Name] = app.ID

		res := model.NewResource(run.session.ID, model.ResourceKindApplication,
			model.PlatformCI, app.ID, as.Name, map[string]string{metaOrgID: run.org.ID})
		if err := p.resources.Register(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

// stepSecrets injects environment secrets and tokens. Best-effort: failures
// are logged and counted, never fatal — a demo works without them and the
// operator can add them by hand.
func (p *Pipeline) stepSecrets(ctx context.Context, run *pipelineRun) error {
	for _, es := range run.scenario.Environments {
		envID := run.envIDs[es.Name]

		for name, value := range es.Secrets {
			if err := run.ci.CreateEnvironmentSecret(ctx, envID, name, value); err != nil {
				slog.Error("environment secret injection failed",
					"environment", es.Name, "secret", name, "session", run.session.ID, "error", err)
				run.result.SecretFailures++
			}
		}

		if es.TokenName != "" {
			if err := run.ci.CreateEnvironmentToken(ctx, envID, es.TokenName); err != nil {
				slog.Error("environment token creation failed",
					"environment", es.Name, "token", es.TokenName, "session", run.session.ID, "error", err)
				run.result.SecretFailures++
			}
		}
	}
	return nil
}

// stepFlagDefinitions captures the scenario's flags in memory. Pure data, no
// platform call: the flags reach the ci-platform only in the final
// configuration step.
func (p *Pipeline) stepFlagDefinitions(_ context.Context, run *pipelineRun) error {
	for _, fs := range run.scenario.Flags {
		run.flagDefs = append(run.flagDefs, flagDefinition{
			key:          fs.Key,
			name:         fs.Name,
			shared:       fs.Shared,
			initialState: fs.InitialState,
		})
		slog.Debug("flag defined", "flag", fs.Key, "shared", fs.Shared, "session", run.session.ID)
	}
	return nil
}

// stepFlags ensures every defined flag exists on the platform, then sets its
// initial state in each environment for each application. Configuration runs
// last because it needs the application ids created one step earlier.
func (p *Pipeline) stepFlags(ctx context.Context, run *pipelineRun) error {
	if len(run.flagDefs) == 0 {
		return nil
	}

	if err := p.ensureOrg(ctx, run); err != nil {
		return err
	}

	existing, err := run.ci.ListFlags(ctx)
	if err != nil {
		return err
	}
	byKey := make(map[string]model.Flag, len(existing))
	for _, flag := range existing {
		byKey[flag.Key] = flag
	}

	for _, def := range run.flagDefs {
		if _, ok := byKey[def.key]; ok {
			run.result.Flags.Adopted++
		} else {
			err := retry.Do(ctx, "create flag "+def.key, func() error {
				_, err := run.ci.CreateFlag(ctx, def.key, def.name)
				return err
			}, driven.IsRetryable, p.cfg.Retry)
			if err != nil {
				return err
			}
			run.result.Flags.Created++
		}

		metadata := map[string]string{metaOrgID: run.org.ID}
		if def.shared {
			metadata[metaShared] = "true"
		}
		res := model.NewResource(run.session.ID, model.ResourceKindFlag,
			model.PlatformCI, def.key, def.name, metadata)
		if err := p.resources.Register(ctx, res); err != nil {
			return err
		}

		for _, es := range run.scenario.Environments {
			envID := run.envIDs[es.Name]
			for _, as := range run.scenario.Applications {
				err := retry.Do(ctx, "configure flag "+def.key, func() error {
					return run.ci.SetFlagState(ctx, def.key, envID, run.appIDs[as.Name], def.initialState)
				}, driven.IsRetryable, p.cfg.Retry)
				if err != nil {
					return err
				}
				run.result.FlagsConfigured++
			}
		}
	}
	return nil
}

// touch records credential use; bookkeeping only, never fatal.
func (p *Pipeline) touch(ctx context.Context, credentialID int64) {
	if err := p.vault.TouchLastUsed(ctx, credentialID); err != nil {
		slog.Warn("failed to update credential last_used", "credential_id", credentialID, "error", err)
	}
}
