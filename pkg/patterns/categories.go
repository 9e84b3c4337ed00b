package patterns

// =============================================================================
// PATTERN DEFINITIONS BY CATEGORY
// All patterns are registered here and compiled once at package init.
// This provides a single source of truth for all screening patterns.
// =============================================================================

// --- INSTRUCTION OVERRIDE PATTERNS (NORMALIZED TEXT) ---
func (r *Registry) registerInjectionPatterns() {
	cat := CategoryInjection

	// Direct instruction override
	r.register("ignore_previous", `(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+instructions?`, cat, 85, "Ignore previous instructions")
	r.register("disregard_instructions", `(?i)disregard\s+(your\s+|all\s+)?(instructions?|rules|guidelines|policy)`, cat, 85, "Disregard instructions")
	r.register("forget_instructions", `(?i)forget\s+(everything|all|your\s+(instructions?|rules|training))`, cat, 80, "Forget instructions")
	r.register("override_system", `(?i)override\s+(your\s+)?(system|instructions?|programming|safety)`, cat, 85, "Override system directives")
	r.register("new_instructions", `(?i)new\s+instructions?\s*:`, cat, 80, "Injected instruction block")
	r.register("do_not_follow", `(?i)do\s+not\s+follow\s+(your|the)\s+(instructions?|rules|guidelines)`, cat, 80, "Instruction refusal coercion")

	// System prompt extraction
	r.register("reveal_prompt", `(?i)(reveal|show|print|repeat|output)\s+(me\s+)?(your\s+)?(system\s+prompt|initial\s+instructions?|hidden\s+rules)`, cat, 75, "System prompt extraction")
	r.register("what_instructions", `(?i)what\s+(are|were)\s+your\s+(original\s+)?instructions`, cat, 65, "Instruction probing")

	// Common non-English phrasings seen in multi-market deployments
	r.register("ignore_previous_es", `(?i)ignora\s+((todas\s+)?las\s+)?instrucciones\s+(anteriores|previas)`, cat, 85, "Ignore previous instructions (Spanish)")
	r.register("ignore_previous_de", `(?i)ignoriere\s+(alle\s+)?(vorherigen\s+)?anweisungen`, cat, 85, "Ignore previous instructions (German)")
	r.register("ignore_previous_fr", `(?i)ignore[zr]?\s+(toutes\s+)?les\s+instructions\s+pr[eé]c[eé]dentes`, cat, 85, "Ignore previous instructions (French)")
	r.register("ignore_previous_pt", `(?i)ignore\s+((todas\s+)?as\s+)?instru[cç][oõ]es\s+anteriores`, cat, 85, "Ignore previous instructions (Portuguese)")
}

// --- PERSONA COERCION PATTERNS (NORMALIZED TEXT) ---
func (r *Registry) registerRoleHijackPatterns() {
	cat := CategoryRoleHijack

	// Role reassignment
	r.register("you_are_now", `(?i)you\s+are\s+now\s+(a|an|in)\b`, cat, 70, "Role reassignment")
	r.register("pretend_to_be", `(?i)pretend\s+(to\s+be|you\s+are|you're)`, cat, 65, "Pretend directive")
	r.register("act_as", `(?i)act\s+as\s+(if|though|a|an)\b`, cat, 60, "Act-as directive")
	r.register("roleplay_as", `(?i)role\s*play\s+as`, cat, 60, "Roleplay coercion")
	r.register("imagine_you_are", `(?i)imagine\s+(that\s+)?you\s+are`, cat, 55, "Hypothetical persona")

	// Known jailbreak framings
	r.register("dan_mode", `(?i)\bDAN\s+(mode|prompt)\b`, cat, 80, "DAN jailbreak")
	r.register("developer_mode", `(?i)developer\s+mode`, cat, 75, "Developer mode jailbreak")
	r.register("jailbreak", `(?i)\bjail\s*break\b`, cat, 75, "Explicit jailbreak mention")
	r.register("no_restrictions", `(?i)(without|no)\s+(any\s+)?(restrictions?|limitations?|filters?)`, cat, 60, "Restriction removal request")
	r.register("bypass_safety", `(?i)bypass\s+(your\s+)?(filters?|restrictions?|safety|guardrails?)`, cat, 80, "Safety bypass request")
}

// --- CHAT TEMPLATE SMUGGLING PATTERNS (NORMALIZED TEXT) ---
func (r *Registry) registerDelimiterPatterns() {
	cat := CategoryDelimiter

	// Model-specific control tokens pasted into user text
	r.register("inst_tag", `(?i)\[/?INST\]`, cat, 75, "Llama instruction tag")
	r.register("chatml_tag", `<\|?(system|user|assistant|im_start|im_end)\|?>`, cat, 75, "ChatML control token")
	r.register("system_xml_tag", `(?i)</?system>`, cat, 70, "System XML tag")
	r.register("markdown_role_header", `(?i)###\s*(system|instruction|human|assistant)`, cat, 65, "Markdown role header")
	r.register("system_prefix", `(?i)^\s*system\s*:`, cat, 65, "System role prefix")
	r.register("transcript_bait", `(?i)(human|assistant)\s*:\s*$`, cat, 55, "Dangling transcript role")
}

// --- OBFUSCATION MARKER PATTERNS (RAW TEXT) ---
// These flag content that warrants a decode-and-rescan pass. A marker match
// alone is not a verdict; the decoded payload decides.
func (r *Registry) registerEncodingPatterns() {
	cat := CategoryEncoding

	r.register("base64_blob", `[A-Za-z0-9+/]{24,}={0,2}`, cat, 50, "Long base64-looking run")
	r.register("hex_blob", `\b(?:[0-9a-fA-F]{2}){16,}\b`, cat, 50, "Long hex-encoded run")
	r.register("url_encoded_run", `(?:%[0-9a-fA-F]{2}){8,}`, cat, 55, "Dense URL-encoded run")
	r.register("unicode_escape_run", `(?:\\u[0-9a-fA-F]{4}){4,}`, cat, 55, "Unicode escape sequence run")
	r.register("html_entity_run", `(?:&#x?[0-9a-fA-F]{2,6};){4,}`, cat, 55, "HTML entity run")
	r.register("zero_width_chars", "[\u200B\u200C\u200D\u2060\uFEFF]", cat, 60, "Zero-width characters")
}

// --- PERSONAL DATA PATTERNS (RAW TEXT) ---
func (r *Registry) registerPIIPatterns() {
	cat := CategoryPII

	r.register("email_address", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, cat, 40, "Email address")
	r.register("phone_number", `\b(?:\+?\d{1,3}[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`, cat, 40, "Phone number")
	r.register("credit_card", `\b(?:\d{4}[- ]?){3}\d{4}\b`, cat, 65, "Credit card number")
	r.register("ssn", `\b\d{3}-\d{2}-\d{4}\b`, cat, 65, "US Social Security Number")
	r.register("iban", `\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`, cat, 55, "IBAN account number")
}
