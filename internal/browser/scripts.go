package browser

// Functions run with the element bound to `this` via Runtime.callFunctionOn.

const fingerprintFn = `function() {
	const clean = (s, n) => (s || '').replace(/\s+/g, ' ').trim().slice(0, n);
	const textOf = (el) => clean(el.innerText !== undefined ? el.innerText : el.textContent, 200);
	const r = this.getBoundingClientRect();

	const path = [];
	for (let el = this; el && el.nodeType === 1 && path.length < 5; el = el.parentElement) {
		const role = el.getAttribute('role') || el.tagName.toLowerCase();
		const name = el.getAttribute('aria-label');
		path.unshift(name ? role + '[' + clean(name, 40) + ']' : role);
	}

	const neighbors = [];
	if (this.parentElement) {
		for (const sib of this.parentElement.children) {
			if (sib === this) continue;
			neighbors.push({tag: sib.tagName.toLowerCase(), text: clean(sib.innerText, 80)});
			if (neighbors.length >= 8) break;
		}
	}

	return {
		tag_name: this.tagName.toLowerCase(),
		text_content: textOf(this),
		visual_bounding_box: {x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height},
		accessibility_path: path.join(' > '),
		neighbors: neighbors,
	};
}`

const textFn = `function() {
	if (this.tagName === 'INPUT' || this.tagName === 'TEXTAREA') return this.value || '';
	return (this.innerText !== undefined ? this.innerText : this.textContent) || '';
}`

const visibleFn = `function() {
	if (!this.isConnected) return false;
	const style = window.getComputedStyle(this);
	if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
	const r = this.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`

// clearFn empties form fields before typing so TYPE replaces the value.
const clearFn = `function() {
	if ('value' in this) {
		this.value = '';
		this.dispatchEvent(new Event('input', {bubbles: true}));
	}
	this.focus();
	return true;
}`
