package browser

// stealthScript normalizes the navigator properties that headless Chromium
// leaves in an automation-detectable state. Injected before any page script
// runs, unless the separate stealth mode already covers it.
func stealthScript() string {
	return `(() => {
		Object.defineProperty(navigator, 'webdriver', {
			get: () => undefined
		});

		Object.defineProperty(navigator, 'plugins', {
			get: () => [1, 2, 3, 4, 5]
		});

		Object.defineProperty(navigator, 'languages', {
			get: () => ['en-US', 'en']
		});

		window.chrome = window.chrome || { runtime: {} };

		const originalQuery = window.navigator.permissions.query;
		window.navigator.permissions.query = (parameters) => (
			parameters.name === 'notifications'
				? Promise.resolve({ state: Notification.permission })
				: originalQuery(parameters)
		);
	})()`
}

// visibilityScript reports whether an element occupies layout space and is
// not hidden by style. Used by the resolver's fallback pass and the click
// interactability check.
func visibilityScript() string {
	return `el => {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);

		return (
			rect.width > 0 &&
			rect.height > 0 &&
			style.display !== 'none' &&
			style.visibility !== 'hidden' &&
			parseFloat(style.opacity) > 0
		);
	}`
}

// textSearchScript walks text nodes and returns the nearest element ancestor
// whose text contains the target string.
func textSearchScript() string {
	return `(target) => {
		const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
		let node;
		while ((node = walker.nextNode())) {
			if (node.textContent && node.textContent.includes(target)) {
				let el = node.parentElement;
				while (el && el.textContent && !el.textContent.includes(target)) {
					el = el.parentElement;
				}
				return el;
			}
		}
		return null;
	}`
}

// extractScript gathers the full observable surface of one element.
func extractScript() string {
	return `el => {
		const attributes = {};
		for (const attr of el.attributes) {
			attributes[attr.name] = attr.value;
		}

		return {
			text: (el.textContent || '').trim(),
			html: el.innerHTML,
			attributes: attributes,
			tag_name: el.tagName.toLowerCase(),
			class: el.className || '',
			id: el.id || ''
		};
	}`
}

// clearValueScript resets an input's value directly, firing the synthetic
// events frameworks listen for.
func clearValueScript() string {
	return `el => {
		if (el.value !== undefined) {
			el.value = '';
		} else {
			el.textContent = '';
		}
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
	}`
}

// setValueScript assigns a value directly with synthetic input/change events,
// the last-resort typing strategy.
func setValueScript() string {
	return `(el, text) => {
		if (el.value !== undefined) {
			el.value = text;
		} else {
			el.textContent = text;
		}
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
	}`
}

// readValueScript reads back whatever the typing strategies produced.
func readValueScript() string {
	return `el => el.value !== undefined ? el.value : (el.textContent || '')`
}
